// Package encounter models one emergency-room visit: its status state
// machine, triage assessments, and the pipeline timestamps everything else
// keys off. Status transitions are the only legitimate source of events
// requiring dispatch.
package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Status is an encounter's position in the ER pipeline.
type Status string

const (
	StatusExpected   Status = "EXPECTED"
	StatusAdmitted   Status = "ADMITTED"
	StatusTriage     Status = "TRIAGE"
	StatusWaiting    Status = "WAITING"
	StatusComplete   Status = "COMPLETE"
	StatusCancelled  Status = "CANCELLED"
	StatusUnresolved Status = "UNRESOLVED"
)

// transitions is the closed transition table. CANCELLED and UNRESOLVED are
// reachable from any non-terminal state; UNRESOLVED can still be closed out
// to COMPLETE or CANCELLED, COMPLETE and CANCELLED cannot change at all.
var transitions = map[Status][]Status{
	StatusExpected:   {StatusAdmitted, StatusCancelled, StatusUnresolved},
	StatusAdmitted:   {StatusTriage, StatusCancelled, StatusUnresolved},
	StatusTriage:     {StatusWaiting, StatusCancelled, StatusUnresolved},
	StatusWaiting:    {StatusComplete, StatusCancelled, StatusUnresolved},
	StatusUnresolved: {StatusComplete, StatusCancelled},
	StatusComplete:   {},
	StatusCancelled:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s rejects all further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Active reports whether the encounter is still in the pipeline and subject
// to alert rules.
func (s Status) Active() bool {
	switch s {
	case StatusAdmitted, StatusTriage, StatusWaiting:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PriorityScore derives the sortable urgency rank from a CTAS level.
// CTAS 1 (resuscitation) scores 500, CTAS 5 (non-urgent) scores 100.
func PriorityScore(ctasLevel int) int {
	return (6 - ctasLevel) * 100
}

// Encounter maps to the encounter table. Rows are never physically deleted;
// terminal states are retained for audit.
type Encounter struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	HospitalID           uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	PatientID            *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Status               Status     `db:"status" json:"status"`
	ChiefComplaint       string     `db:"chief_complaint" json:"chief_complaint"`
	CurrentCtasLevel     *int       `db:"current_ctas_level" json:"current_ctas_level,omitempty"`
	CurrentPriorityScore *int       `db:"current_priority_score" json:"current_priority_score,omitempty"`
	ExpectedAt           *time.Time `db:"expected_at" json:"expected_at,omitempty"`
	ArrivedAt            *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	TriagedAt            *time.Time `db:"triaged_at" json:"triaged_at,omitempty"`
	WaitingAt            *time.Time `db:"waiting_at" json:"waiting_at,omitempty"`
	DepartedAt           *time.Time `db:"departed_at" json:"departed_at,omitempty"`
	CancelledAt          *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// stampStatus records the timestamp matching the status the encounter just
// entered.
func (e *Encounter) stampStatus(status Status, now time.Time) {
	switch status {
	case StatusExpected:
		e.ExpectedAt = &now
	case StatusAdmitted:
		e.ArrivedAt = &now
	case StatusTriage:
		e.TriagedAt = &now
	case StatusWaiting:
		e.WaitingAt = &now
	case StatusComplete:
		e.DepartedAt = &now
	case StatusCancelled:
		e.CancelledAt = &now
	}
}

// TriageAssessment is an immutable snapshot of one triage evaluation. The
// encounter caches the latest assessment's level and score for fast board
// sorting.
type TriageAssessment struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	EncounterID     uuid.UUID              `db:"encounter_id" json:"encounter_id"`
	CtasLevel       int                    `db:"ctas_level" json:"ctas_level"`
	PriorityScore   int                    `db:"priority_score" json:"priority_score"`
	Vitals          map[string]interface{} `db:"vitals" json:"vitals,omitempty"`
	Notes           *string                `db:"notes" json:"notes,omitempty"`
	CreatedByUserID *uuid.UUID             `db:"created_by_user_id" json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
}

// LocationPing is a transient patient position report. Pings live only in the
// in-memory TTL cache; they are never persisted.
type LocationPing struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ReportedAt  time.Time `json:"reported_at"`
}
