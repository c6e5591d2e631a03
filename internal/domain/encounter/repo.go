package encounter

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows the hospital board listing.
type ListFilter struct {
	Status *Status
}

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// ListByHospital returns the hospital's board ordered by priority score
	// (highest first) then arrival time.
	ListByHospital(ctx context.Context, hospitalID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error)
	// ListActive returns every encounter in an active pipeline status across
	// all hospitals, for the periodic alert evaluator.
	ListActive(ctx context.Context) ([]*Encounter, error)
	UpdateStatus(ctx context.Context, enc *Encounter) error
	// UpdateTriageCache writes the encounter's cached latest-assessment level
	// and score.
	UpdateTriageCache(ctx context.Context, id uuid.UUID, ctasLevel, priorityScore int) error
	CreateAssessment(ctx context.Context, a *TriageAssessment) error
	ListAssessments(ctx context.Context, encounterID uuid.UUID) ([]*TriageAssessment, error)
}
