package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Message, int, error)
	CountUnread(ctx context.Context, encounterID uuid.UUID) (int, error)
	SetRead(ctx context.Context, id uuid.UUID, at time.Time) error
}
