// Package message implements the staff-patient thread on an encounter. A
// patient message flagged as worsening creates a PATIENT_WORSENING alert in
// the same transaction as the message row.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Message maps to the message table. Exactly one of SenderUserID or
// SenderPatientID is set.
type Message struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	EncounterID     uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	HospitalID      uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	Body            string     `db:"body" json:"body"`
	SenderUserID    *uuid.UUID `db:"sender_user_id" json:"sender_user_id,omitempty"`
	SenderPatientID *uuid.UUID `db:"sender_patient_id" json:"sender_patient_id,omitempty"`
	IsWorsening     bool       `db:"is_worsening" json:"is_worsening"`
	ReadAt          *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Read reports whether the message has been marked read.
func (m *Message) Read() bool { return m.ReadAt != nil }
