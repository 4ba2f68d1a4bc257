package bed

import (
	"time"

	"github.com/google/uuid"
)

const (
	StateAvailable   = "available"
	StateOccupied    = "occupied"
	StateReserved    = "reserved"
	StateMaintenance = "maintenance"
	StateCleaning    = "cleaning"
)

const (
	TypeBox           = "box"
	TypeStretcher     = "stretcher"
	TypeWard          = "ward"
	TypeICU           = "icu"
	TypeEmergencyRoom = "emergency_room"
	TypeWaitingRoom   = "waiting_room"
)

var (
	States = []string{StateAvailable, StateOccupied, StateReserved, StateMaintenance, StateCleaning}
	Types  = []string{TypeBox, TypeStretcher, TypeWard, TypeICU, TypeEmergencyRoom, TypeWaitingRoom}
)

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func ValidState(s string) bool { return contains(States, s) }
func ValidType(t string) bool  { return contains(Types, t) }

// Bed is one physical bed or care space. EncounterID is set exactly when
// State is occupied.
type Bed struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Code        string     `db:"code" json:"code"`
	Type        string     `db:"type" json:"type"`
	State       string     `db:"state" json:"state"`
	Floor       string     `db:"floor" json:"floor,omitempty"`
	Room        string     `db:"room" json:"room,omitempty"`
	EncounterID *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	AssignedAt  *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	AssignedBy  *uuid.UUID `db:"assigned_by" json:"assigned_by,omitempty"`
	Notes       string     `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (b *Bed) occupy(encounterID, staffID uuid.UUID, at time.Time) {
	b.State = StateOccupied
	b.EncounterID = &encounterID
	b.AssignedBy = &staffID
	b.AssignedAt = &at
}

func (b *Bed) vacate(next string) {
	b.State = next
	b.EncounterID = nil
	b.AssignedBy = nil
	b.AssignedAt = nil
}

// Filter narrows List.
type Filter struct {
	Type  string
	State string
}

// Count is the number of beds sharing a type and state.
type Count struct {
	Type  string
	State string
	N     int
}

// Bucket is one row of the occupancy breakdown.
type Bucket struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Stats summarises occupancy, recomputed from the bed rows on every call.
type Stats struct {
	Total         int                       `json:"total"`
	ByState       map[string]Bucket         `json:"by_state"`
	ByType        map[string]Bucket         `json:"by_type"`
	ByTypeState   map[string]map[string]int `json:"by_type_state"`
	OccupancyRate float64                   `json:"occupancy_rate"`
}
