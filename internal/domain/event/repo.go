package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, ev *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	// ListUnprocessedBefore returns ids of events still awaiting dispatch
	// that were created before cutoff, oldest first, bounded by limit.
	ListUnprocessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Event, int, error)
}
