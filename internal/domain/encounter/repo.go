package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Patients
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	FindPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	ListPatients(ctx context.Context, unidentified *bool, limit, offset int) ([]*Patient, int, error)

	// Encounters
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForShare blocks while another transaction holds the row for update.
	GetForShare(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error)

	// Status history
	AddStatusChange(ctx context.Context, c *StatusChange) error
	ListStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusChange, error)

	// Clinical records
	CreateTriage(ctx context.Context, t *Triage) error
	GetTriage(ctx context.Context, encounterID uuid.UUID) (*Triage, error)
	CreateDiagnosis(ctx context.Context, d *Diagnosis) error
	UpdateDiagnosis(ctx context.Context, d *Diagnosis) error
	GetDiagnosis(ctx context.Context, encounterID uuid.UUID) (*Diagnosis, error)
	// NextDiagnosisSeq returns the next free sequence number for day. It
	// must run inside a transaction; the sequence stays reserved until
	// that transaction ends.
	NextDiagnosisSeq(ctx context.Context, day time.Time) (int, error)

	// Wait alerts
	ListWaitCandidates(ctx context.Context) ([]*WaitCandidate, error)
	// MarkWaitAlerted claims the encounter for a wait alert; false means
	// another run claimed it first or the patient has been seen since it
	// was listed.
	MarkWaitAlerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Vital signs
	CreateVitalSigns(ctx context.Context, v *VitalSigns) error
	ListVitalSigns(ctx context.Context, encounterID uuid.UUID) ([]*VitalSigns, error)

	// Medication requests
	CreateMedicationRequest(ctx context.Context, m *MedicationRequest) error
	GetMedicationRequest(ctx context.Context, id uuid.UUID) (*MedicationRequest, error)
	// AnswerMedicationRequest stores the response only while the request
	// is still pending and returns ErrConflict otherwise.
	AnswerMedicationRequest(ctx context.Context, m *MedicationRequest) error
	ListMedicationRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*MedicationRequest, int, error)

	// Exam requests
	CreateExamRequest(ctx context.Context, x *ExamRequest) error
	GetExamRequest(ctx context.Context, id uuid.UUID) (*ExamRequest, error)
	// UpdateExamRequest applies x only while the stored state is still from.
	UpdateExamRequest(ctx context.Context, x *ExamRequest, from string) error
	ListExamRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*ExamRequest, int, error)
}
