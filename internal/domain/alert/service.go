package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/encounter"
	"github.com/ertriage/ertriage/internal/domain/event"
)

// EncounterStore is the narrow encounter surface the alert service needs.
// Satisfied by encounter.Repository.
type EncounterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

// TxRunner runs fn inside a database transaction carried by the context.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo       Repository
	encounters EncounterStore
	outbox     *event.Outbox
	queue      event.Enqueuer
	tx         TxRunner
	cfg        RuleConfig
	logger     zerolog.Logger
}

func NewService(repo Repository, encounters EncounterStore, outbox *event.Outbox, queue event.Enqueuer, tx TxRunner, cfg RuleConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		encounters: encounters,
		outbox:     outbox,
		queue:      queue,
		tx:         tx,
		cfg:        cfg,
		logger:     logger.With().Str("component", "alert").Logger(),
	}
}

// CreateInput is a manual or rule-produced alert payload.
type CreateInput struct {
	EncounterID uuid.UUID              `json:"encounter_id"`
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Create persists an alert for the encounter. Creating a second alert of the
// same type while an unresolved one exists is a conflict.
func (s *Service) Create(ctx context.Context, hospitalID uuid.UUID, in CreateInput, actor event.Actor) (*Alert, error) {
	if in.Type == "" {
		return nil, derrors.Validationf("type is required")
	}
	if !in.Severity.Valid() {
		return nil, derrors.Validationf("unknown severity %q", in.Severity)
	}

	var created *Alert
	var pending *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		enc, err := s.getScopedEncounter(ctx, in.EncounterID, hospitalID)
		if err != nil {
			return err
		}

		open, err := s.repo.ExistsOpen(ctx, enc.ID, in.Type)
		if err != nil {
			return fmt.Errorf("check open alerts: %w", err)
		}
		if open {
			return derrors.Conflictf("an open %s alert already exists for this encounter", in.Type)
		}

		a := &Alert{
			EncounterID: enc.ID,
			HospitalID:  enc.HospitalID,
			Type:        in.Type,
			Severity:    in.Severity,
			Message:     in.Message,
			Metadata:    in.Metadata,
		}
		ev, err := s.CreateInTx(ctx, a, actor)
		if err != nil {
			return err
		}
		created, pending = a, ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(pending)
	return created, nil
}

// CreateInTx writes the alert row and its alert-created event inside the
// caller's transaction. Callers must enqueue the returned event only after
// their transaction commits.
func (s *Service) CreateInTx(ctx context.Context, a *Alert, actor event.Actor) (*event.Event, error) {
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return s.outbox.Append(ctx, a.EncounterID, a.HospitalID, event.TypeAlertCreated,
		map[string]interface{}{"alertId": a.ID, "type": a.Type, "severity": a.Severity}, actor)
}

// CreateIfAbsentInTx is CreateInTx with the evaluator's dedup check: it
// skips silently when an unresolved alert of the same type already exists.
func (s *Service) CreateIfAbsentInTx(ctx context.Context, a *Alert, actor event.Actor) (*event.Event, bool, error) {
	open, err := s.repo.ExistsOpen(ctx, a.EncounterID, a.Type)
	if err != nil {
		return nil, false, fmt.Errorf("check open alerts: %w", err)
	}
	if open {
		return nil, false, nil
	}
	ev, err := s.CreateInTx(ctx, a, actor)
	if err != nil {
		return nil, false, err
	}
	return ev, true, nil
}

// CreateIfAbsent is the evaluator's write path: it skips silently when an
// unresolved alert of the same type already exists, so repeated evaluation
// never produces duplicate open alerts.
func (s *Service) CreateIfAbsent(ctx context.Context, enc *encounter.Encounter, f *Firing) (*Alert, bool, error) {
	var created *Alert
	var pending *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a := &Alert{
			EncounterID: enc.ID,
			HospitalID:  enc.HospitalID,
			Type:        f.Type,
			Severity:    f.Severity,
			Message:     f.Message,
			Metadata:    f.Metadata,
		}
		ev, ok, err := s.CreateIfAbsentInTx(ctx, a, event.SystemActor)
		if err != nil {
			return err
		}
		if ok {
			created, pending = a, ev
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created == nil {
		return nil, false, nil
	}

	s.enqueue(pending)
	return created, true, nil
}

// Acknowledge marks the alert seen by a staff user. Acknowledging twice is a
// conflict so racing callers surface the duplicate action.
func (s *Service) Acknowledge(ctx context.Context, id, hospitalID, userID uuid.UUID) (*Alert, error) {
	return s.transition(ctx, id, hospitalID, userID, event.TypeAlertAcknowledged)
}

// Resolve closes the alert. Independent of acknowledgement; resolving twice
// is a conflict.
func (s *Service) Resolve(ctx context.Context, id, hospitalID, userID uuid.UUID) (*Alert, error) {
	return s.transition(ctx, id, hospitalID, userID, event.TypeAlertResolved)
}

func (s *Service) transition(ctx context.Context, id, hospitalID, userID uuid.UUID, evType event.Type) (*Alert, error) {
	var updated *Alert
	var pending *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.getScoped(ctx, id, hospitalID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch evType {
		case event.TypeAlertAcknowledged:
			if a.Acknowledged() {
				return derrors.Conflictf("alert already acknowledged")
			}
			if err := s.repo.SetAcknowledged(ctx, a.ID, userID, now); err != nil {
				return err
			}
			a.AcknowledgedAt = &now
			a.AcknowledgedByUserID = &userID
		case event.TypeAlertResolved:
			if a.Resolved() {
				return derrors.Conflictf("alert already resolved")
			}
			if err := s.repo.SetResolved(ctx, a.ID, userID, now); err != nil {
				return err
			}
			a.ResolvedAt = &now
			a.ResolvedByUserID = &userID
		}

		ev, err := s.outbox.Append(ctx, a.EncounterID, a.HospitalID, evType,
			map[string]interface{}{"alertId": a.ID, "type": a.Type}, event.Actor{StaffUserID: &userID})
		if err != nil {
			return err
		}
		updated, pending = a, ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(pending)
	return updated, nil
}

func (s *Service) GetAlert(ctx context.Context, id, hospitalID uuid.UUID) (*Alert, error) {
	return s.getScoped(ctx, id, hospitalID)
}

func (s *Service) ListUnacknowledged(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	return s.repo.ListUnacknowledgedByHospital(ctx, hospitalID, limit, offset)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID, hospitalID uuid.UUID) ([]*Alert, error) {
	if _, err := s.getScopedEncounter(ctx, encounterID, hospitalID); err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	SortBySeverity(alerts)
	return alerts, nil
}

// ListMerged returns the encounter's persisted alerts merged with derived
// alerts computed from its current snapshot, severity-ordered.
func (s *Service) ListMerged(ctx context.Context, encounterID, hospitalID uuid.UUID) ([]DerivedAlert, error) {
	enc, err := s.getScopedEncounter(ctx, encounterID, hospitalID)
	if err != nil {
		return nil, err
	}
	server, err := s.repo.ListByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	derived := DeriveAlerts([]*encounter.Encounter{enc}, time.Now().UTC(), s.cfg)
	return MergeForPresentation(server, derived), nil
}

func (s *Service) getScoped(ctx context.Context, id, hospitalID uuid.UUID) (*Alert, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if hospitalID != uuid.Nil && a.HospitalID != hospitalID {
		return nil, derrors.NotFoundf("alert not found")
	}
	return a, nil
}

func (s *Service) getScopedEncounter(ctx context.Context, id, hospitalID uuid.UUID) (*encounter.Encounter, error) {
	enc, err := s.encounters.GetByID(ctx, id)
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
