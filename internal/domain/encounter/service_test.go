package encounter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/event"
	"github.com/ertriage/ertriage/internal/platform/cache"
)

type fakeRepo struct {
	mu          sync.Mutex
	encounters  map[uuid.UUID]*Encounter
	assessments []*TriageAssessment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{encounters: make(map[uuid.UUID]*Encounter)}
}

func (r *fakeRepo) Create(_ context.Context, enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	enc.CreatedAt = time.Now().UTC()
	enc.UpdatedAt = enc.CreatedAt
	cp := *enc
	r.encounters[enc.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	enc, ok := r.encounters[id]
	if !ok {
		return nil, derrors.NotFoundf("encounter not found")
	}
	cp := *enc
	return &cp, nil
}

func (r *fakeRepo) ListByHospital(_ context.Context, hospitalID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Encounter
	for _, enc := range r.encounters {
		if enc.HospitalID != hospitalID {
			continue
		}
		if filter.Status != nil && enc.Status != *filter.Status {
			continue
		}
		cp := *enc
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (r *fakeRepo) ListActive(_ context.Context) ([]*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Encounter
	for _, enc := range r.encounters {
		if enc.Status.Active() {
			cp := *enc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.encounters[enc.ID]
	if !ok {
		return derrors.NotFoundf("encounter not found")
	}
	stored.Status = enc.Status
	stored.ExpectedAt = enc.ExpectedAt
	stored.ArrivedAt = enc.ArrivedAt
	stored.TriagedAt = enc.TriagedAt
	stored.WaitingAt = enc.WaitingAt
	stored.DepartedAt = enc.DepartedAt
	stored.CancelledAt = enc.CancelledAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) UpdateTriageCache(_ context.Context, id uuid.UUID, ctasLevel, priorityScore int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.encounters[id]
	if !ok {
		return derrors.NotFoundf("encounter not found")
	}
	stored.CurrentCtasLevel = &ctasLevel
	stored.CurrentPriorityScore = &priorityScore
	return nil
}

func (r *fakeRepo) CreateAssessment(_ context.Context, a *TriageAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	cp := *a
	r.assessments = append(r.assessments, &cp)
	return nil
}

func (r *fakeRepo) ListAssessments(_ context.Context, encounterID uuid.UUID) ([]*TriageAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*TriageAssessment
	for _, a := range r.assessments {
		if a.EncounterID == encounterID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *fakeEventRepo) Create(_ context.Context, ev *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id uuid.UUID) (*event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, derrors.NotFoundf("event not found")
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (r *fakeEventRepo) ListUnprocessedBefore(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *fakeEventRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID, limit, offset int) ([]*event.Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, ev := range r.events {
		if ev.EncounterID == encounterID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (r *fakeEventRepo) byType(t event.Type) []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// passthroughTx runs fn directly; commit/rollback behavior is covered by the
// db package tests.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *fakeQueue) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	events *fakeEventRepo
	queue  *fakeQueue
}

func newFixture() *fixture {
	repo := newFakeRepo()
	events := &fakeEventRepo{}
	queue := &fakeQueue{}
	svc := NewService(
		repo, events,
		event.NewOutbox(events, zerolog.Nop()),
		queue, passthroughTx{},
		cache.New(100, time.Minute),
		zerolog.Nop(),
	)
	return &fixture{svc: svc, repo: repo, events: events, queue: queue}
}

func staffActor() event.Actor {
	uid := uuid.New()
	return event.Actor{StaffUserID: &uid}
}

func (f *fixture) seed(t *testing.T, hospitalID uuid.UUID, status Status) *Encounter {
	t.Helper()
	enc := &Encounter{
		HospitalID:     hospitalID,
		Status:         status,
		ChiefComplaint: "chest pain",
	}
	now := time.Now().UTC()
	enc.stampStatus(status, now)
	if err := f.repo.Create(context.Background(), enc); err != nil {
		t.Fatalf("seed encounter: %v", err)
	}
	return enc
}

func TestCreateEncounter_DefaultsAndEvent(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()

	enc, err := f.svc.CreateEncounter(context.Background(), hospID,
		CreateInput{ChiefComplaint: "shortness of breath"}, staffActor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if enc.Status != StatusAdmitted {
		t.Errorf("default status = %s, want ADMITTED", enc.Status)
	}
	if enc.ArrivedAt == nil {
		t.Error("walk-in intake must stamp arrived_at")
	}
	if got := f.events.byType(event.TypeCreated); len(got) != 1 {
		t.Fatalf("created events = %d, want 1", len(got))
	}
	if f.queue.count() != 1 {
		t.Errorf("enqueued = %d, want 1", f.queue.count())
	}
}

func TestCreateEncounter_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateEncounter(context.Background(), uuid.New(),
		CreateInput{}, staffActor())
	if derrors.KindOf(err) != derrors.KindValidation {
		t.Errorf("missing chief complaint: kind = %v, want validation", derrors.KindOf(err))
	}

	_, err = f.svc.CreateEncounter(context.Background(), uuid.New(),
		CreateInput{ChiefComplaint: "x", Status: StatusComplete}, staffActor())
	if derrors.KindOf(err) != derrors.KindValidation {
		t.Errorf("terminal intake status: kind = %v, want validation", derrors.KindOf(err))
	}
}

func TestCreateEncounter_PreRegistrationWithoutPatient(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()

	// Pre-arrival intake records are created before the patient is known.
	enc, err := f.svc.CreateEncounter(context.Background(), hospID,
		CreateInput{ChiefComplaint: "incoming MVA", Status: StatusExpected}, staffActor())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if enc.PatientID != nil {
		t.Errorf("patient id = %v, want nil", enc.PatientID)
	}
	if enc.Status != StatusExpected {
		t.Errorf("status = %s, want EXPECTED", enc.Status)
	}

	stored, err := f.repo.GetByID(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PatientID != nil {
		t.Error("stored intake must keep a nil patient id")
	}
}

func TestUpdateStatus_HappyPath(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusAdmitted)

	updated, err := f.svc.UpdateStatus(context.Background(), enc.ID, hospID, StatusTriage, staffActor())
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != StatusTriage {
		t.Errorf("status = %s, want TRIAGE", updated.Status)
	}
	if updated.TriagedAt == nil {
		t.Error("TRIAGE must stamp triaged_at")
	}

	evs := f.events.byType(event.TypeStatusChanged)
	if len(evs) != 1 {
		t.Fatalf("status-changed events = %d, want 1", len(evs))
	}
	if evs[0].Metadata["from"] != StatusAdmitted || evs[0].Metadata["to"] != StatusTriage {
		t.Errorf("event metadata = %v", evs[0].Metadata)
	}
	if f.queue.count() != 1 {
		t.Errorf("enqueued = %d, want 1", f.queue.count())
	}
}

func TestUpdateStatus_TriageToWaitingEmitsTriageCompleted(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusTriage)

	if _, err := f.svc.UpdateStatus(context.Background(), enc.ID, hospID, StatusWaiting, staffActor()); err != nil {
		t.Fatalf("update status: %v", err)
	}

	if got := f.events.byType(event.TypeStatusChanged); len(got) != 1 {
		t.Errorf("status-changed events = %d, want 1", len(got))
	}
	if got := f.events.byType(event.TypeTriageCompleted); len(got) != 1 {
		t.Errorf("triage-completed events = %d, want 1", len(got))
	}
	if f.queue.count() != 2 {
		t.Errorf("enqueued = %d, want 2", f.queue.count())
	}
}

func TestUpdateStatus_TerminalGuard(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()

	for _, terminal := range []Status{StatusComplete, StatusCancelled} {
		enc := f.seed(t, hospID, terminal)

		_, err := f.svc.UpdateStatus(context.Background(), enc.ID, hospID, StatusAdmitted, staffActor())
		if !derrors.IsConflict(err) {
			t.Errorf("%s: kind = %v, want conflict", terminal, derrors.KindOf(err))
		}

		stored, _ := f.repo.GetByID(context.Background(), enc.ID)
		if stored.Status != terminal {
			t.Errorf("%s encounter was mutated to %s", terminal, stored.Status)
		}
	}
	if len(f.events.byType(event.TypeStatusChanged)) != 0 {
		t.Error("rejected transitions must not append events")
	}
}

func TestUpdateStatus_IllegalTransition(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusExpected)

	_, err := f.svc.UpdateStatus(context.Background(), enc.ID, hospID, StatusWaiting, staffActor())
	if !derrors.IsConflict(err) {
		t.Errorf("kind = %v, want conflict", derrors.KindOf(err))
	}
	if f.queue.count() != 0 {
		t.Error("no event may be enqueued for a rejected transition")
	}
}

func TestUpdateStatus_UnresolvedCanClose(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusUnresolved)

	updated, err := f.svc.UpdateStatus(context.Background(), enc.ID, hospID, StatusComplete, staffActor())
	if err != nil {
		t.Fatalf("UNRESOLVED -> COMPLETE: %v", err)
	}
	if updated.DepartedAt == nil {
		t.Error("closing out must stamp departed_at")
	}
}

func TestUpdateStatus_HospitalScope(t *testing.T) {
	f := newFixture()
	enc := f.seed(t, uuid.New(), StatusAdmitted)

	_, err := f.svc.UpdateStatus(context.Background(), enc.ID, uuid.New(), StatusTriage, staffActor())
	if !derrors.IsNotFound(err) {
		t.Errorf("cross-hospital access: kind = %v, want not found", derrors.KindOf(err))
	}
}

func TestRecordTriage(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusTriage)

	a, err := f.svc.RecordTriage(context.Background(), enc.ID, hospID,
		TriageInput{CtasLevel: 2, Vitals: map[string]interface{}{"hr": 118}}, staffActor())
	if err != nil {
		t.Fatalf("record triage: %v", err)
	}
	if a.PriorityScore != 400 {
		t.Errorf("priority score = %d, want 400", a.PriorityScore)
	}

	stored, _ := f.repo.GetByID(context.Background(), enc.ID)
	if stored.CurrentCtasLevel == nil || *stored.CurrentCtasLevel != 2 {
		t.Error("encounter must cache the latest ctas level")
	}
	if stored.CurrentPriorityScore == nil || *stored.CurrentPriorityScore != 400 {
		t.Error("encounter must cache the latest priority score")
	}
	if got := f.events.byType(event.TypeTriageCreated); len(got) != 1 {
		t.Errorf("triage-created events = %d, want 1", len(got))
	}
}

func TestRecordTriage_InvalidCtas(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusTriage)

	for _, level := range []int{0, 6, -1} {
		_, err := f.svc.RecordTriage(context.Background(), enc.ID, hospID,
			TriageInput{CtasLevel: level}, staffActor())
		if derrors.KindOf(err) != derrors.KindValidation {
			t.Errorf("ctas %d: kind = %v, want validation", level, derrors.KindOf(err))
		}
	}
}

func TestLocationPings(t *testing.T) {
	f := newFixture()
	hospID := uuid.New()
	enc := f.seed(t, hospID, StatusExpected)

	if _, err := f.svc.LastLocation(context.Background(), enc.ID, hospID); !derrors.IsNotFound(err) {
		t.Errorf("no ping yet: kind = %v, want not found", derrors.KindOf(err))
	}

	ping, err := f.svc.RecordLocation(context.Background(), enc.ID, hospID, 43.65, -79.38)
	if err != nil {
		t.Fatalf("record location: %v", err)
	}
	if ping.ReportedAt.IsZero() {
		t.Error("ping must carry a report time")
	}

	got, err := f.svc.LastLocation(context.Background(), enc.ID, hospID)
	if err != nil {
		t.Fatalf("last location: %v", err)
	}
	if got.Latitude != 43.65 || got.Longitude != -79.38 {
		t.Errorf("ping = %+v", got)
	}
}
