package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outbox appends event rows inside the caller's transaction. Append must be
// called with a context carrying the same transaction as the domain mutation
// it describes; that is the whole durability guarantee.
type Outbox struct {
	repo   Repository
	logger zerolog.Logger
}

// NewOutbox creates an Outbox writing through repo.
func NewOutbox(repo Repository, logger zerolog.Logger) *Outbox {
	return &Outbox{repo: repo, logger: logger}
}

// Append writes an event row for the given mutation. When hospitalID is
// unresolvable (pre-confirmation intake records with no hospital yet) the
// append is a no-op that logs a warning instead of failing the parent
// transaction: such records have no subscribers, so losing their events is
// acceptable.
func (o *Outbox) Append(ctx context.Context, encounterID, hospitalID uuid.UUID, t Type, metadata map[string]interface{}, actor Actor) (*Event, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if hospitalID == uuid.Nil {
		o.logger.Warn().
			Str("encounter_id", encounterID.String()).
			Str("type", string(t)).
			Msg("skipping event append: encounter has no hospital yet")
		return nil, nil
	}

	ev := &Event{
		EncounterID: encounterID,
		HospitalID:  hospitalID,
		Type:        t,
		Metadata:    metadata,
		StaffUserID: actor.StaffUserID,
		PatientID:   actor.PatientID,
	}
	if err := o.repo.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("append %s event: %w", t, err)
	}
	return ev, nil
}
