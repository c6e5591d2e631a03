package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	// ExistsOpen reports whether an unresolved alert of the given type already
	// exists for the encounter. This is the evaluator's dedup check.
	ExistsOpen(ctx context.Context, encounterID uuid.UUID, alertType string) (bool, error)
	ListUnacknowledgedByHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Alert, int, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Alert, error)
	SetAcknowledged(ctx context.Context, id, userID uuid.UUID, at time.Time) error
	SetResolved(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}
