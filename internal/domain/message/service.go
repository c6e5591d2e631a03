package message

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/alert"
	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/domain/encounter"
	"github.com/ertriage/ertriage/internal/domain/event"
)

// EncounterStore is the narrow encounter surface the message service needs.
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
	alerts     *alert.Service
	outbox     *event.Outbox
	queue      event.Enqueuer
	tx         TxRunner
	logger     zerolog.Logger
}

func NewService(repo Repository, encounters EncounterStore, alerts *alert.Service, outbox *event.Outbox, queue event.Enqueuer, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		encounters: encounters,
		alerts:     alerts,
		outbox:     outbox,
		queue:      queue,
		tx:         tx,
		logger:     logger.With().Str("component", "message").Logger(),
	}
}

// CreateInput is one message post.
type CreateInput struct {
	Body        string `json:"body"`
	IsWorsening bool   `json:"is_worsening"`
}

// CreateMessage posts to the encounter thread. A worsening flag from a
// patient additionally creates a PATIENT_WORSENING alert; the message row,
// the alert row and both their events commit as one transaction.
func (s *Service) CreateMessage(ctx context.Context, encounterID, hospitalID uuid.UUID, in CreateInput, actor event.Actor) (*Message, error) {
	if in.Body == "" {
		return nil, derrors.Validationf("body is required")
	}

	msg := &Message{
		EncounterID:     encounterID,
		Body:            in.Body,
		SenderUserID:    actor.StaffUserID,
		SenderPatientID: actor.PatientID,
		IsWorsening:     in.IsWorsening,
	}

	var pending []*event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		enc, err := s.getScopedEncounter(ctx, encounterID, hospitalID)
		if err != nil {
			return err
		}
		if enc.Status.Terminal() {
			return derrors.Conflictf("encounter is %s and cannot receive messages", enc.Status)
		}
		msg.HospitalID = enc.HospitalID

		if err := s.repo.Create(ctx, msg); err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		ev, err := s.outbox.Append(ctx, enc.ID, enc.HospitalID, event.TypeMessageCreated,
			map[string]interface{}{"messageId": msg.ID, "isWorsening": msg.IsWorsening}, actor)
		if err != nil {
			return err
		}
		pending = append(pending, ev)

		if msg.IsWorsening {
			a := &alert.Alert{
				EncounterID: enc.ID,
				HospitalID:  enc.HospitalID,
				Type:        alert.TypePatientWorsening,
				Severity:    alert.SeverityHigh,
				Message:     "patient reports worsening condition",
				Metadata:    map[string]interface{}{"messageId": msg.ID},
			}
			alertEv, created, err := s.alerts.CreateIfAbsentInTx(ctx, a, actor)
			if err != nil {
				return err
			}
			if created {
				pending = append(pending, alertEv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(pending...)
	return msg, nil
}

// MarkRead stamps the message read. Re-reading an already-read message is a
// conflict, matching the alert transitions.
func (s *Service) MarkRead(ctx context.Context, messageID, hospitalID uuid.UUID, actor event.Actor) (*Message, error) {
	var msg *Message
	var pending *event.Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		msg, err = s.getScoped(ctx, messageID, hospitalID)
		if err != nil {
			return err
		}
		if msg.Read() {
			return derrors.Conflictf("message already read")
		}

		now := time.Now().UTC()
		if err := s.repo.SetRead(ctx, msg.ID, now); err != nil {
			return err
		}
		msg.ReadAt = &now

		ev, err := s.outbox.Append(ctx, msg.EncounterID, msg.HospitalID, event.TypeMessageRead,
			map[string]interface{}{"messageId": msg.ID}, actor)
		if err != nil {
			return err
		}
		pending = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.enqueue(pending)
	return msg, nil
}

func (s *Service) ListThread(ctx context.Context, encounterID, hospitalID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.getScopedEncounter(ctx, encounterID, hospitalID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByEncounter(ctx, encounterID, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, encounterID, hospitalID uuid.UUID) (int, error) {
	if _, err := s.getScopedEncounter(ctx, encounterID, hospitalID); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, encounterID)
}

func (s *Service) getScoped(ctx context.Context, id, hospitalID uuid.UUID) (*Message, error) {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if hospitalID != uuid.Nil && msg.HospitalID != hospitalID {
		return nil, derrors.NotFoundf("message not found")
	}
	return msg, nil
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
