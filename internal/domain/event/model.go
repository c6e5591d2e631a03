// Package event implements the transactional outbox and its background
// dispatcher. Every domain mutation appends an immutable EncounterEvent row
// inside the mutating transaction; the dispatcher fans committed events out
// to the broadcast layer and stamps processed_at, with a reconciliation
// sweep re-enqueueing anything that slipped through.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of encounter event types.
type Type string

const (
	TypeCreated           Type = "created"
	TypeStatusChanged     Type = "status-changed"
	TypeTriageCreated     Type = "triage-created"
	TypeTriageCompleted   Type = "triage-completed"
	TypeMessageCreated    Type = "message-created"
	TypeMessageRead       Type = "message-read"
	TypeAlertCreated      Type = "alert-created"
	TypeAlertAcknowledged Type = "alert-acknowledged"
	TypeAlertResolved     Type = "alert-resolved"
)

var validTypes = map[Type]bool{
	TypeCreated:           true,
	TypeStatusChanged:     true,
	TypeTriageCreated:     true,
	TypeTriageCompleted:   true,
	TypeMessageCreated:    true,
	TypeMessageRead:       true,
	TypeAlertCreated:      true,
	TypeAlertAcknowledged: true,
	TypeAlertResolved:     true,
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool { return validTypes[t] }

// Actor identifies who caused an event. At most one of the fields is set;
// both nil means system-generated.
type Actor struct {
	StaffUserID *uuid.UUID
	PatientID   *uuid.UUID
}

// SystemActor is the actor for events not caused by a user action.
var SystemActor = Actor{}

// Event maps to the encounter_event table. Rows are immutable except for
// processed_at, which the dispatcher stamps after a successful fan-out.
type Event struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	EncounterID uuid.UUID              `db:"encounter_id" json:"encounter_id"`
	HospitalID  uuid.UUID              `db:"hospital_id" json:"hospital_id"`
	Type        Type                   `db:"type" json:"type"`
	Metadata    map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	StaffUserID *uuid.UUID             `db:"staff_user_id" json:"staff_user_id,omitempty"`
	PatientID   *uuid.UUID             `db:"patient_id" json:"patient_id,omitempty"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time             `db:"processed_at" json:"processed_at,omitempty"`
}

// PushMessage is the wire shape delivered to websocket subscribers.
type PushMessage struct {
	EventID     uuid.UUID              `json:"eventId"`
	EncounterID uuid.UUID              `json:"encounterId"`
	HospitalID  uuid.UUID              `json:"hospitalId"`
	Type        Type                   `json:"type"`
	CreatedAt   time.Time              `json:"createdAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PushMessage converts the event into its wire shape.
func (e *Event) PushMessage() PushMessage {
	return PushMessage{
		EventID:     e.ID,
		EncounterID: e.EncounterID,
		HospitalID:  e.HospitalID,
		Type:        e.Type,
		CreatedAt:   e.CreatedAt,
		Metadata:    e.Metadata,
	}
}
