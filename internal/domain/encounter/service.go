package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/event"
	"github.com/ertriage/ertriage/internal/platform/cache"
)

// TxRunner runs fn inside a database transaction carried by the context.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo   Repository
	events event.Repository
	outbox *event.Outbox
	queue  event.Enqueuer
	tx     TxRunner
	pings  *cache.Cache
	logger zerolog.Logger
}

func NewService(repo Repository, events event.Repository, outbox *event.Outbox, queue event.Enqueuer, tx TxRunner, pings *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		outbox: outbox,
		queue:  queue,
		tx:     tx,
		pings:  pings,
		logger: logger.With().Str("component", "encounter").Logger(),
	}
}

// CreateInput is the intake payload. Status may be EXPECTED (pre-arrival) or
// ADMITTED (walk-in); it defaults to ADMITTED.
type CreateInput struct {
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	ChiefComplaint string     `json:"chief_complaint"`
	Status         Status     `json:"status,omitempty"`
}

// TriageInput is one triage evaluation.
type TriageInput struct {
	CtasLevel int                    `json:"ctas_level"`
	Vitals    map[string]interface{} `json:"vitals,omitempty"`
	Notes     *string                `json:"notes,omitempty"`
}

func (s *Service) CreateEncounter(ctx context.Context, hospitalID uuid.UUID, in CreateInput, actor event.Actor) (*Encounter, error) {
	if in.ChiefComplaint == "" {
		return nil, derrors.Validationf("chief_complaint is required")
	}
	status := in.Status
	if status == "" {
		status = StatusAdmitted
	}
	if status != StatusExpected && status != StatusAdmitted {
		return nil, derrors.Validationf("intake status must be %s or %s", StatusExpected, StatusAdmitted)
	}

	now := time.Now().UTC()
	enc := &Encounter{
		HospitalID:     hospitalID,
		PatientID:      in.PatientID,
		Status:         status,
		ChiefComplaint: in.ChiefComplaint,
	}
	enc.stampStatus(status, now)

	var created *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return fmt.Errorf("create encounter: %w", err)
		}
		ev, err := s.outbox.Append(ctx, enc.ID, enc.HospitalID, event.TypeCreated,
			map[string]interface{}{"status": enc.Status, "chiefComplaint": enc.ChiefComplaint}, actor)
		if err != nil {
			return err
		}
		created = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(created)
	return enc, nil
}

func (s *Service) GetEncounter(ctx context.Context, id, hospitalID uuid.UUID) (*Encounter, error) {
	return s.getScoped(ctx, id, hospitalID)
}

func (s *Service) ListBoard(ctx context.Context, hospitalID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, derrors.Validationf("unknown status %q", *filter.Status)
	}
	return s.repo.ListByHospital(ctx, hospitalID, filter, limit, offset)
}

// UpdateStatus moves the encounter through the state machine. The status
// write and its events are committed as one unit; dispatch happens only after
// the commit.
func (s *Service) UpdateStatus(ctx context.Context, id, hospitalID uuid.UUID, next Status, actor event.Actor) (*Encounter, error) {
	if !next.Valid() {
		return nil, derrors.Validationf("unknown status %q", next)
	}

	var enc *Encounter
	var pending []*event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		enc, err = s.getScoped(ctx, id, hospitalID)
		if err != nil {
			return err
		}
		if enc.Status.Terminal() {
			return derrors.Conflictf("encounter is %s and cannot change status", enc.Status)
		}
		if !enc.Status.CanTransitionTo(next) {
			return derrors.Conflictf("cannot transition from %s to %s", enc.Status, next)
		}

		prev := enc.Status
		now := time.Now().UTC()
		enc.Status = next
		enc.stampStatus(next, now)
		if err := s.repo.UpdateStatus(ctx, enc); err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		ev, err := s.outbox.Append(ctx, enc.ID, enc.HospitalID, event.TypeStatusChanged,
			map[string]interface{}{"from": prev, "to": next}, actor)
		if err != nil {
			return err
		}
		pending = append(pending, ev)

		if prev == StatusTriage && next == StatusWaiting {
			ev, err := s.outbox.Append(ctx, enc.ID, enc.HospitalID, event.TypeTriageCompleted,
				map[string]interface{}{"ctasLevel": enc.CurrentCtasLevel}, actor)
			if err != nil {
				return err
			}
			pending = append(pending, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(pending...)
	return enc, nil
}

// RecordTriage stores an immutable assessment snapshot and refreshes the
// encounter's cached acuity.
func (s *Service) RecordTriage(ctx context.Context, encounterID, hospitalID uuid.UUID, in TriageInput, actor event.Actor) (*TriageAssessment, error) {
	if in.CtasLevel < 1 || in.CtasLevel > 5 {
		return nil, derrors.Validationf("ctas_level must be between 1 and 5")
	}

	assessment := &TriageAssessment{
		EncounterID:     encounterID,
		CtasLevel:       in.CtasLevel,
		PriorityScore:   PriorityScore(in.CtasLevel),
		Vitals:          in.Vitals,
		Notes:           in.Notes,
		CreatedByUserID: actor.StaffUserID,
	}

	var created *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		enc, err := s.getScoped(ctx, encounterID, hospitalID)
		if err != nil {
			return err
		}
		if enc.Status.Terminal() {
			return derrors.Conflictf("encounter is %s and cannot be triaged", enc.Status)
		}
		if err := s.repo.CreateAssessment(ctx, assessment); err != nil {
			return fmt.Errorf("create assessment: %w", err)
		}
		if err := s.repo.UpdateTriageCache(ctx, enc.ID, assessment.CtasLevel, assessment.PriorityScore); err != nil {
			return fmt.Errorf("update triage cache: %w", err)
		}
		ev, err := s.outbox.Append(ctx, enc.ID, enc.HospitalID, event.TypeTriageCreated,
			map[string]interface{}{"ctasLevel": assessment.CtasLevel, "priorityScore": assessment.PriorityScore}, actor)
		if err != nil {
			return err
		}
		created = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(created)
	return assessment, nil
}

func (s *Service) ListAssessments(ctx context.Context, encounterID, hospitalID uuid.UUID) ([]*TriageAssessment, error) {
	if _, err := s.getScoped(ctx, encounterID, hospitalID); err != nil {
		return nil, err
	}
	return s.repo.ListAssessments(ctx, encounterID)
}

// ListEvents is the polling fallback: it returns the encounter's full event
// history so a client can reconstruct state without any push message.
func (s *Service) ListEvents(ctx context.Context, encounterID, hospitalID uuid.UUID, limit, offset int) ([]*event.Event, int, error) {
	if _, err := s.getScoped(ctx, encounterID, hospitalID); err != nil {
		return nil, 0, err
	}
	return s.events.ListByEncounter(ctx, encounterID, limit, offset)
}

// RecordLocation stores a transient patient position ping in the TTL cache.
func (s *Service) RecordLocation(ctx context.Context, encounterID, hospitalID uuid.UUID, lat, lon float64) (*LocationPing, error) {
	if _, err := s.getScoped(ctx, encounterID, hospitalID); err != nil {
		return nil, err
	}
	ping := &LocationPing{
		EncounterID: encounterID,
		Latitude:    lat,
		Longitude:   lon,
		ReportedAt:  time.Now().UTC(),
	}
	s.pings.Set(encounterID.String(), ping)
	return ping, nil
}

// LastLocation returns the most recent unexpired ping for the encounter.
func (s *Service) LastLocation(ctx context.Context, encounterID, hospitalID uuid.UUID) (*LocationPing, error) {
	if _, err := s.getScoped(ctx, encounterID, hospitalID); err != nil {
		return nil, err
	}
	v, ok := s.pings.Get(encounterID.String())
	if !ok {
		return nil, derrors.NotFoundf("no recent location for encounter")
	}
	return v.(*LocationPing), nil
}

// getScoped loads the encounter and hides records outside the caller's
// hospital behind NotFound, so tenant existence never leaks.
func (s *Service) getScoped(ctx context.Context, id, hospitalID uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if hospitalID != uuid.Nil && enc.HospitalID != uuid.Nil && enc.HospitalID != hospitalID {
		return nil, derrors.NotFoundf("encounter not found")
	}
	return enc, nil
}

func (s *Service) enqueue(events ...*event.Event) {
	for _, ev := range events {
		if ev != nil {
			s.queue.Enqueue(ev.ID)
		}
	}
}
