package encounter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Encounter states. en_route is initial; the five dispositions are terminal.
const (
	StateEnRoute        = "en_route"
	StateAtHospital     = "at_hospital"
	StateSeen           = "seen"
	StateDischargedHome = "discharged_home"
	StateAdmitted       = "admitted"
	StateInICU          = "in_icu"
	StateTransferred    = "transferred"
	StateDeceased       = "deceased"
)

var successors = map[string][]string{
	StateEnRoute:    {StateAtHospital},
	StateAtHospital: {StateSeen},
	StateSeen:       {StateDischargedHome, StateAdmitted, StateInICU, StateTransferred, StateDeceased},
}

// States lists every state in lifecycle order.
var States = []string{
	StateEnRoute, StateAtHospital, StateSeen,
	StateDischargedHome, StateAdmitted, StateInICU, StateTransferred, StateDeceased,
}

func ValidState(s string) bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s string) bool {
	return ValidState(s) && len(successors[s]) == 0
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to string) bool {
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Disposition types recorded on a diagnosis.
const (
	DispositionHome      = "home"
	DispositionWard      = "ward"
	DispositionICU       = "icu"
	DispositionTransfer  = "transfer"
	DispositionVoluntary = "voluntary"
	DispositionDeceased  = "deceased"
)

var dispositionTargets = map[string]string{
	DispositionHome:      StateDischargedHome,
	DispositionWard:      StateAdmitted,
	DispositionICU:       StateInICU,
	DispositionTransfer:  StateTransferred,
	DispositionVoluntary: StateDischargedHome,
	DispositionDeceased:  StateDeceased,
}

// TargetState maps a disposition type to the terminal state it selects.
func TargetState(disposition string) (string, bool) {
	s, ok := dispositionTargets[disposition]
	return s, ok
}

// releasesBed is true for terminal states that leave the department.
func releasesBed(state string) bool {
	switch state {
	case StateDischargedHome, StateTransferred, StateDeceased:
		return true
	}
	return false
}

// Priorities, C1 most severe.
const (
	PriorityC1 = "C1"
	PriorityC2 = "C2"
	PriorityC3 = "C3"
	PriorityC4 = "C4"
	PriorityC5 = "C5"
)

func ValidPriority(p string) bool {
	switch p {
	case PriorityC1, PriorityC2, PriorityC3, PriorityC4, PriorityC5:
		return true
	}
	return false
}

// Critical is true for C1 and C2.
func Critical(p string) bool {
	return p == PriorityC1 || p == PriorityC2
}

// PriorityForSeverity returns the priority a triage severity implies.
func PriorityForSeverity(severity int) string {
	return fmt.Sprintf("C%d", severity)
}

// ESI colours and maximum waits by triage severity.
var (
	esiColours = map[int]string{1: "#FF0000", 2: "#FF8C00", 3: "#FFD700", 4: "#32CD32", 5: "#4169E1"}
	maxWaits   = map[int]time.Duration{
		1: 0,
		2: 10 * time.Minute,
		3: 30 * time.Minute,
		4: 60 * time.Minute,
		5: 120 * time.Minute,
	}
)

func ESIColour(severity int) string {
	if c, ok := esiColours[severity]; ok {
		return c
	}
	return "#808080"
}

// MaxWait is how long a patient of the given severity may wait for a
// physician after arrival. Severity 1 is immediate.
func MaxWait(severity int) time.Duration {
	return maxWaits[severity]
}

func MaxWaitLabel(severity int) string {
	d, ok := maxWaits[severity]
	switch {
	case !ok:
		return "undefined"
	case d == 0:
		return "immediate"
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}

// Patient sexes.
const (
	SexMale    = "male"
	SexFemale  = "female"
	SexOther   = "other"
	SexUnknown = "unknown"
)

// Patient is a person brought in by a paramedic. Unidentified ("NN")
// patients carry a temporary id instead of a national id.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	NationalID   *string    `db:"national_id" json:"national_id,omitempty"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Sex          string     `db:"sex" json:"sex"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Unidentified bool       `db:"unidentified" json:"unidentified"`
	TemporaryID  *string    `db:"temporary_id" json:"temporary_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName is the label shown on boards and in alerts.
func (p *Patient) DisplayName() string {
	if p.Unidentified {
		id := ""
		if p.TemporaryID != nil {
			id = *p.TemporaryID
		}
		return "NN - " + id
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// NormalizeRUT strips dots and spaces and upper-cases the check digit.
func NormalizeRUT(rut string) string {
	r := strings.NewReplacer(".", "", " ", "").Replace(rut)
	return strings.ToUpper(strings.TrimSpace(r))
}

// Encounter is one emergency record ("ficha").
type Encounter struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	ParamedicID        uuid.UUID  `db:"paramedic_id" json:"paramedic_id"`
	PhysicianID        *uuid.UUID `db:"physician_id" json:"physician_id,omitempty"`
	ChiefComplaint     string     `db:"chief_complaint" json:"chief_complaint"`
	Circumstances      string     `db:"circumstances" json:"circumstances"`
	Symptoms           string     `db:"symptoms" json:"symptoms"`
	ConsciousnessLevel string     `db:"consciousness_level" json:"consciousness_level"`
	Priority           string     `db:"priority" json:"priority"`
	State              string     `db:"state" json:"state"`
	ETA                string     `db:"eta" json:"eta"`
	ArrivedAt          *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	WaitAlertedAt      *time.Time `db:"wait_alerted_at" json:"wait_alerted_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Patient *Patient `db:"-" json:"patient,omitempty"`
}

// StatusChange is one row of an encounter's state history.
type StatusChange struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EncounterID uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	FromState   string     `db:"from_state" json:"from_state"`
	ToState     string     `db:"to_state" json:"to_state"`
	ChangedBy   *uuid.UUID `db:"changed_by" json:"changed_by,omitempty"`
	ChangedAt   time.Time  `db:"changed_at" json:"changed_at"`
}

// Triage is the one assessment an encounter receives on arrival.
type Triage struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	EncounterID         uuid.UUID `db:"encounter_id" json:"encounter_id"`
	Severity            int       `db:"severity" json:"severity"`
	ManchesterColor     string    `db:"manchester_color" json:"manchester_color"`
	HighFever           bool      `db:"high_fever" json:"high_fever"`
	RespiratoryDistress bool      `db:"respiratory_distress" json:"respiratory_distress"`
	ChestPain           bool      `db:"chest_pain" json:"chest_pain"`
	NeurologicalChange  bool      `db:"neurological_change" json:"neurological_change"`
	ActiveBleeding      bool      `db:"active_bleeding" json:"active_bleeding"`
	MajorTrauma         bool      `db:"major_trauma" json:"major_trauma"`
	Airway              string    `db:"airway" json:"airway"`
	Breathing           string    `db:"breathing" json:"breathing"`
	Circulation         string    `db:"circulation" json:"circulation"`
	AVPU                string    `db:"avpu" json:"avpu"`
	PainScore           *int      `db:"pain_score" json:"pain_score,omitempty"`
	EstimatedResources  int       `db:"estimated_resources" json:"estimated_resources"`
	Notes               string    `db:"notes" json:"notes"`
	PerformedBy         uuid.UUID `db:"performed_by" json:"performed_by"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// AlarmSigns lists the alarm signs that are present.
func (t *Triage) AlarmSigns() []string {
	var out []string
	for _, s := range []struct {
		on   bool
		name string
	}{
		{t.HighFever, "high_fever"},
		{t.RespiratoryDistress, "respiratory_distress"},
		{t.ChestPain, "chest_pain"},
		{t.NeurologicalChange, "neurological_change"},
		{t.ActiveBleeding, "active_bleeding"},
		{t.MajorTrauma, "major_trauma"},
	} {
		if s.on {
			out = append(out, s.name)
		}
	}
	return out
}

var (
	manchesterColours = map[string]bool{"": true, "red": true, "orange": true, "yellow": true, "green": true, "blue": true}
	avpuLevels        = map[string]bool{"": true, "A": true, "V": true, "P": true, "U": true}
)

func (t *Triage) validate() error {
	if t.Severity < 1 || t.Severity > 5 {
		return fmt.Errorf("severity must be between 1 and 5")
	}
	if !manchesterColours[t.ManchesterColor] {
		return fmt.Errorf("invalid manchester colour %q", t.ManchesterColor)
	}
	if !avpuLevels[t.AVPU] {
		return fmt.Errorf("invalid AVPU level %q", t.AVPU)
	}
	if t.PainScore != nil && (*t.PainScore < 0 || *t.PainScore > 10) {
		return fmt.Errorf("pain score must be between 0 and 10")
	}
	if t.EstimatedResources < 0 {
		return fmt.Errorf("estimated resources cannot be negative")
	}
	return nil
}

// Diagnosis is the physician's final assessment. DispositionType is empty
// until a disposition is chosen.
type Diagnosis struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	EncounterID         uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	Code                string     `db:"code" json:"code"`
	ICD10Code           string     `db:"icd10_code" json:"icd10_code"`
	Description         string     `db:"description" json:"description"`
	Instructions        string     `db:"instructions" json:"instructions"`
	Medication          string     `db:"medication" json:"medication"`
	DispositionType     string     `db:"disposition_type" json:"disposition_type,omitempty"`
	TransferDestination string     `db:"transfer_destination" json:"transfer_destination,omitempty"`
	TimeOfDeath         *time.Time `db:"time_of_death" json:"time_of_death,omitempty"`
	PhysicianID         uuid.UUID  `db:"physician_id" json:"physician_id"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

func validateDisposition(d *Diagnosis) error {
	if d.DispositionType == "" {
		return nil
	}
	if _, ok := TargetState(d.DispositionType); !ok {
		return fmt.Errorf("invalid disposition type %q", d.DispositionType)
	}
	if d.DispositionType == DispositionTransfer && strings.TrimSpace(d.TransferDestination) == "" {
		return fmt.Errorf("transfer destination is required")
	}
	return nil
}

// DiagnosisCode formats the unique code DX-YYYYMMDD-NNNN.
func DiagnosisCode(day time.Time, seq int) string {
	return fmt.Sprintf("DX-%s-%04d", day.Format("20060102"), seq)
}

// Filter narrows ListEncounters.
type Filter struct {
	State       string
	Priority    string
	PatientID   *uuid.UUID
	ParamedicID *uuid.UUID
	Active      bool
}

// WaitCandidate is an arrived, triaged and undiagnosed encounter that has not
// been alerted for its wait yet.
type WaitCandidate struct {
	Encounter *Encounter
	Severity  int
}

// CreateRequest is the paramedic's dispatch report. Either PatientID or
// Patient must be set.
type CreateRequest struct {
	PatientID          *uuid.UUID `json:"patient_id,omitempty"`
	Patient            *Patient   `json:"patient,omitempty"`
	ChiefComplaint     string     `json:"chief_complaint"`
	Circumstances      string     `json:"circumstances"`
	Symptoms           string     `json:"symptoms"`
	ConsciousnessLevel string     `json:"consciousness_level"`
	Priority           string     `json:"priority"`
	ETA                string     `json:"eta"`
}

// Detail is an encounter with its clinical records.
type Detail struct {
	*Encounter
	Triage    *Triage    `json:"triage,omitempty"`
	Diagnosis *Diagnosis `json:"diagnosis,omitempty"`
}
