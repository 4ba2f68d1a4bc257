package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var validPriorities = map[string]bool{
	PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityUrgent: true,
}

// Alert types.
const (
	TypeNewEncounter       = "new_encounter"
	TypePatientArrived     = "patient_arrived"
	TypeTriageCompleted    = "triage_completed"
	TypeDiagnosisRecorded  = "diagnosis_recorded"
	TypeStateChanged       = "state_changed"
	TypeAdmissionRequested = "admission_requested"
	TypeICUAdmission       = "icu_admission"
	TypeWaitExceeded       = "wait_exceeded"
	TypeVitalSigns         = "vital_signs"
	TypeMedicationRequest  = "medication_request"
	TypeMedicationAnswered = "medication_answered"
	TypeExamRequest        = "exam_request"
	TypeExamCompleted      = "exam_completed"
)

// Notification is one inbox row: a single alert for a single recipient.
type Notification struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	RecipientID uuid.UUID      `db:"recipient_id" json:"recipient_id"`
	Type        string         `db:"type" json:"type"`
	Title       string         `db:"title" json:"title"`
	Message     string         `db:"message" json:"message"`
	EncounterID *uuid.UUID     `db:"encounter_id" json:"encounter_id,omitempty"`
	Priority    string         `db:"priority" json:"priority"`
	Read        bool           `db:"read" json:"read"`
	ReadAt      *time.Time     `db:"read_at" json:"read_at,omitempty"`
	Data        map[string]any `db:"data" json:"data,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Alert is what a caller wants said; the dispatcher turns it into one
// Notification per recipient.
type Alert struct {
	Type        string
	Title       string
	Message     string
	EncounterID *uuid.UUID
	Priority    string
	Data        map[string]any
}

// DeviceToken links a mobile device to a staff member for FCM pushes.
type DeviceToken struct {
	Token     string    `db:"token" json:"token"`
	StaffID   uuid.UUID `db:"staff_id" json:"staff_id"`
	Platform  string    `db:"platform" json:"platform"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
