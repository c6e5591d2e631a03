package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/alert"
	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/encounter"
	"github.com/ertriage/ertriage/internal/domain/event"
)

type fakeRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: make(map[uuid.UUID]*Message)}
}

func (r *fakeRepo) Create(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().UTC()
	cp := *m
	r.messages[m.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, derrors.NotFoundf("message not found")
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Message
	for _, m := range r.messages {
		if m.EncounterID == encounterID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (r *fakeRepo) CountUnread(_ context.Context, encounterID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages {
		if m.EncounterID == encounterID && m.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) SetRead(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return derrors.NotFoundf("message not found")
	}
	if m.ReadAt != nil {
		return derrors.Conflictf("message already read")
	}
	m.ReadAt = &at
	return nil
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*alert.Alert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[uuid.UUID]*alert.Alert)}
}

func (r *fakeAlertRepo) Create(_ context.Context, a *alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, id uuid.UUID) (*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, derrors.NotFoundf("alert not found")
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAlertRepo) ExistsOpen(_ context.Context, encounterID uuid.UUID, alertType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.EncounterID == encounterID && a.Type == alertType && a.ResolvedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeAlertRepo) ListUnacknowledgedByHospital(_ context.Context, hospitalID uuid.UUID, limit, offset int) ([]*alert.Alert, int, error) {
	return nil, 0, nil
}

func (r *fakeAlertRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*alert.Alert
	for _, a := range r.alerts {
		if a.EncounterID == encounterID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) SetAcknowledged(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	return nil
}

func (r *fakeAlertRepo) SetResolved(_ context.Context, id, userID uuid.UUID, at time.Time) error {
	return nil
}

type fakeEncounters struct {
	encounters map[uuid.UUID]*encounter.Encounter
}

func (s *fakeEncounters) GetByID(_ context.Context, id uuid.UUID) (*encounter.Encounter, error) {
	enc, ok := s.encounters[id]
	if !ok {
		return nil, derrors.NotFoundf("encounter not found")
	}
	cp := *enc
	return &cp, nil
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
	return nil, derrors.NotFoundf("event not found")
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (r *fakeEventRepo) ListUnprocessedBefore(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *fakeEventRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID, limit, offset int) ([]*event.Event, int, error) {
	return nil, 0, nil
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
	svc       *Service
	repo      *fakeRepo
	alertRepo *fakeAlertRepo
	events    *fakeEventRepo
	queue     *fakeQueue
	enc       *encounter.Encounter
}

func newFixture(status encounter.Status) *fixture {
	repo := newFakeRepo()
	alertRepo := newFakeAlertRepo()
	events := &fakeEventRepo{}
	queue := &fakeQueue{}

	now := time.Now().UTC()
	enc := &encounter.Encounter{
		ID:             uuid.New(),
		HospitalID:     uuid.New(),
		Status:         status,
		ChiefComplaint: "abdominal pain",
		ArrivedAt:      &now,
	}
	encounters := &fakeEncounters{encounters: map[uuid.UUID]*encounter.Encounter{enc.ID: enc}}

	outbox := event.NewOutbox(events, zerolog.Nop())
	alerts := alert.NewService(alertRepo, encounters, outbox, queue, passthroughTx{},
		alert.DefaultRuleConfig(), zerolog.Nop())
	svc := NewService(repo, encounters, alerts, outbox, queue, passthroughTx{}, zerolog.Nop())

	return &fixture{svc: svc, repo: repo, alertRepo: alertRepo, events: events, queue: queue, enc: enc}
}

func patientActor() event.Actor {
	pid := uuid.New()
	return event.Actor{PatientID: &pid}
}

func TestCreateMessage_WorseningCreatesAlertAndBothEvents(t *testing.T) {
	f := newFixture(encounter.StatusAdmitted)

	msg, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
		CreateInput{Body: "I feel much worse", IsWorsening: true}, patientActor())
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.SenderPatientID == nil {
		t.Error("patient sender must be recorded")
	}

	alerts, _ := f.alertRepo.ListByEncounter(context.Background(), f.enc.ID)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Type != alert.TypePatientWorsening || alerts[0].Severity != alert.SeverityHigh {
		t.Errorf("alert = %s/%s, want PATIENT_WORSENING/HIGH", alerts[0].Type, alerts[0].Severity)
	}

	if got := f.events.byType(event.TypeMessageCreated); len(got) != 1 {
		t.Errorf("message-created events = %d, want 1", len(got))
	}
	if got := f.events.byType(event.TypeAlertCreated); len(got) != 1 {
		t.Errorf("alert-created events = %d, want 1", len(got))
	}
	if f.queue.count() != 2 {
		t.Errorf("enqueued = %d, want 2", f.queue.count())
	}
}

func TestCreateMessage_WorseningDedupsOpenAlert(t *testing.T) {
	f := newFixture(encounter.StatusAdmitted)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
			CreateInput{Body: "worse again", IsWorsening: true}, patientActor()); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	alerts, _ := f.alertRepo.ListByEncounter(context.Background(), f.enc.ID)
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1 (open worsening alert dedups)", len(alerts))
	}
	if got := f.events.byType(event.TypeMessageCreated); len(got) != 2 {
		t.Errorf("message-created events = %d, want 2", len(got))
	}
}

func TestCreateMessage_PlainMessageNoAlert(t *testing.T) {
	f := newFixture(encounter.StatusWaiting)

	if _, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
		CreateInput{Body: "how much longer?"}, patientActor()); err != nil {
		t.Fatalf("create message: %v", err)
	}

	alerts, _ := f.alertRepo.ListByEncounter(context.Background(), f.enc.ID)
	if len(alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(alerts))
	}
	if f.queue.count() != 1 {
		t.Errorf("enqueued = %d, want 1", f.queue.count())
	}
}

func TestCreateMessage_TerminalEncounter(t *testing.T) {
	f := newFixture(encounter.StatusComplete)

	_, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
		CreateInput{Body: "hello"}, patientActor())
	if !derrors.IsConflict(err) {
		t.Errorf("kind = %v, want conflict", derrors.KindOf(err))
	}
}

func TestCreateMessage_Validation(t *testing.T) {
	f := newFixture(encounter.StatusAdmitted)

	_, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
		CreateInput{}, patientActor())
	if derrors.KindOf(err) != derrors.KindValidation {
		t.Errorf("kind = %v, want validation", derrors.KindOf(err))
	}
}

func TestMarkRead_OnceThenConflict(t *testing.T) {
	f := newFixture(encounter.StatusWaiting)
	staffID := uuid.New()
	staff := event.Actor{StaffUserID: &staffID}

	msg, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
		CreateInput{Body: "any update?"}, patientActor())
	if err != nil {
		t.Fatalf("create message: %v", err)
	}

	read, err := f.svc.MarkRead(context.Background(), msg.ID, f.enc.HospitalID, staff)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if read.ReadAt == nil {
		t.Fatal("read_at must be stamped")
	}
	if got := f.events.byType(event.TypeMessageRead); len(got) != 1 {
		t.Errorf("message-read events = %d, want 1", len(got))
	}

	_, err = f.svc.MarkRead(context.Background(), msg.ID, f.enc.HospitalID, staff)
	if !derrors.IsConflict(err) {
		t.Errorf("double read: kind = %v, want conflict", derrors.KindOf(err))
	}
}

func TestUnreadCount(t *testing.T) {
	f := newFixture(encounter.StatusWaiting)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.CreateMessage(context.Background(), f.enc.ID, f.enc.HospitalID,
			CreateInput{Body: "msg"}, patientActor()); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	count, err := f.svc.UnreadCount(context.Background(), f.enc.ID, f.enc.HospitalID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 3 {
		t.Errorf("unread = %d, want 3", count)
	}
}
