// Package alert implements the safety-alert lifecycle and its rule engine:
// persisted server alerts created by a periodic evaluator or event-triggered
// writes, plus ephemeral derived alerts computed from the same rule table for
// instant client feedback.
package alert

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Severity orders alerts for presentation. CRITICAL sorts first.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the sort position of s; unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Alert type codes produced by the rule engine. Type is free-form on the
// wire; these are the codes this system emits.
const (
	TypeCtas1NotInTriage    = "CTAS1_NOT_IN_TRIAGE"
	TypeCtas2LongWait       = "CTAS2_LONG_WAIT"
	TypeComplaintKeyword    = "COMPLAINT_KEYWORD"
	TypeReassessmentOverdue = "TRIAGE_REASSESSMENT_OVERDUE"
	TypeLongWait            = "LONG_WAIT"
	TypePatientWorsening    = "PATIENT_WORSENING"
)

// Alert maps to the alert table. Acknowledge and resolve are independent
// one-way transitions; both timestamps are immutable once set.
type Alert struct {
	ID                   uuid.UUID              `db:"id" json:"id"`
	EncounterID          uuid.UUID              `db:"encounter_id" json:"encounter_id"`
	HospitalID           uuid.UUID              `db:"hospital_id" json:"hospital_id"`
	Type                 string                 `db:"type" json:"type"`
	Severity             Severity               `db:"severity" json:"severity"`
	Message              string                 `db:"message" json:"message"`
	Metadata             map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	AcknowledgedAt       *time.Time             `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedByUserID *uuid.UUID             `db:"acknowledged_by_user_id" json:"acknowledged_by_user_id,omitempty"`
	ResolvedAt           *time.Time             `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedByUserID     *uuid.UUID             `db:"resolved_by_user_id" json:"resolved_by_user_id,omitempty"`
	CreatedAt            time.Time              `db:"created_at" json:"created_at"`
}

// Acknowledged reports whether the alert has been acknowledged.
func (a *Alert) Acknowledged() bool { return a.AcknowledgedAt != nil }

// Resolved reports whether the alert has been resolved.
func (a *Alert) Resolved() bool { return a.ResolvedAt != nil }

// SortBySeverity orders alerts CRITICAL, HIGH, MEDIUM, LOW; ties break on
// creation time, newest first. The sort is stable for any input permutation.
func SortBySeverity(alerts []*Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
