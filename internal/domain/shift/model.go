package shift

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeMorning = "morning"
	TypeNight   = "night"
	TypeDouble  = "double"
	TypeRest    = "rest"
)

var validTypes = map[string]bool{
	TypeMorning: true,
	TypeNight:   true,
	TypeDouble:  true,
	TypeRest:    true,
}

// ValidType reports whether t names a shift type.
func ValidType(t string) bool { return validTypes[t] }

// Assignment places one staff member on one shift of one calendar date.
// Date carries only the year, month and day; its location is ignored.
type Assignment struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	StaffID    uuid.UUID  `db:"staff_id" json:"staff_id"`
	Date       time.Time  `db:"shift_date" json:"shift_date"`
	Type       string     `db:"shift_type" json:"shift_type"`
	ClockedIn  bool       `db:"clocked_in" json:"clocked_in"`
	ClockInAt  *time.Time `db:"clock_in_at" json:"clock_in_at,omitempty"`
	ClockOutAt *time.Time `db:"clock_out_at" json:"clock_out_at,omitempty"`
	Voluntary  bool       `db:"voluntary" json:"voluntary"`
	Notes      string     `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Filter narrows ListAssignments. Zero values mean no restriction.
type Filter struct {
	StaffID *uuid.UUID
	From    *time.Time
	To      *time.Time
}

// Status is what a staff member sees about their own shift right now.
type Status struct {
	HasScheduled bool        `json:"has_scheduled_shift"`
	Current      *Assignment `json:"current,omitempty"`
	InWindow     bool        `json:"in_window"`
	OnDuty       bool        `json:"on_duty"`
	Ambiguous    bool        `json:"ambiguous,omitempty"`
	WindowStart  *time.Time  `json:"window_start,omitempty"`
	WindowEnd    *time.Time  `json:"window_end,omitempty"`
}

// BulkAssignRequest schedules the same shift type for several staff on
// several dates.
type BulkAssignRequest struct {
	StaffIDs []uuid.UUID `json:"staff_ids"`
	Dates    []string    `json:"dates"`
	Type     string      `json:"shift_type"`
	Notes    string      `json:"notes,omitempty"`
}
