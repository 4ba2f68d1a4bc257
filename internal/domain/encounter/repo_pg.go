package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// -- Patients --

const patientCols = `id, national_id, first_name, last_name, sex, birth_date, unidentified, temporary_id, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.NationalID, &p.FirstName, &p.LastName, &p.Sex, &p.BirthDate,
		&p.Unidentified, &p.TemporaryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, national_id, first_name, last_name, sex, birth_date, unidentified, temporary_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.NationalID, p.FirstName, p.LastName, p.Sex, p.BirthDate, p.Unidentified, p.TemporaryID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.MapError(err, "create patient")
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "patient "+id.String())
	}
	return p, nil
}

func (r *repoPG) FindPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE national_id = $1`, nationalID))
	if err != nil {
		return nil, db.MapError(err, "patient "+nationalID)
	}
	return p, nil
}

func (r *repoPG) ListPatients(ctx context.Context, unidentified *bool, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE ($1::boolean IS NULL OR unidentified = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, unidentified).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient`+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, unidentified, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// -- Encounters --

const encounterCols = `id, patient_id, paramedic_id, physician_id, chief_complaint, circumstances, symptoms,
	consciousness_level, priority, state, eta, arrived_at, wait_alerted_at, created_at, updated_at`

const encounterColsE = `e.id, e.patient_id, e.paramedic_id, e.physician_id, e.chief_complaint, e.circumstances, e.symptoms,
	e.consciousness_level, e.priority, e.state, e.eta, e.arrived_at, e.wait_alerted_at, e.created_at, e.updated_at`

func scanEncounter(row pgx.Row, extra ...any) (*Encounter, error) {
	var e Encounter
	dest := []any{&e.ID, &e.PatientID, &e.ParamedicID, &e.PhysicianID, &e.ChiefComplaint,
		&e.Circumstances, &e.Symptoms, &e.ConsciousnessLevel, &e.Priority, &e.State, &e.ETA,
		&e.ArrivedAt, &e.WaitAlertedAt, &e.CreatedAt, &e.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, paramedic_id, chief_complaint, circumstances, symptoms,
			consciousness_level, priority, state, eta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.ParamedicID, e.ChiefComplaint, e.Circumstances, e.Symptoms,
		e.ConsciousnessLevel, e.Priority, e.State, e.ETA,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return db.MapError(err, "create encounter")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encounterCols+` FROM encounter WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "encounter "+id.String())
	}
	return e, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encounterCols+` FROM encounter WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.MapError(err, "encounter "+id.String())
	}
	return e, nil
}

func (r *repoPG) GetForShare(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx, `SELECT `+encounterCols+` FROM encounter WHERE id = $1 FOR SHARE`, id))
	if err != nil {
		return nil, db.MapError(err, "encounter "+id.String())
	}
	return e, nil
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE encounter SET physician_id = $2, priority = $3, state = $4, eta = $5,
			arrived_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.PhysicianID, e.Priority, e.State, e.ETA, e.ArrivedAt,
	).Scan(&e.UpdatedAt)
	return db.MapError(err, "update encounter "+e.ID.String())
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	where := ` WHERE ($1 = '' OR state = $1)
		AND ($2 = '' OR priority = $2)
		AND ($3::uuid IS NULL OR patient_id = $3)
		AND ($4::uuid IS NULL OR paramedic_id = $4)
		AND (NOT $5 OR state IN ('en_route', 'at_hospital', 'seen'))`
	args := []any{f.State, f.Priority, f.PatientID, f.ParamedicID, f.Active}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+encounterCols+` FROM encounter`+where+`
		ORDER BY priority, created_at DESC LIMIT $6 OFFSET $7`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var out []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// -- Status history --

func (r *repoPG) AddStatusChange(ctx context.Context, c *StatusChange) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_status_history (id, encounter_id, from_state, to_state, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.EncounterID, c.FromState, c.ToState, c.ChangedBy, c.ChangedAt)
	if err != nil {
		return fmt.Errorf("add status change: %w", err)
	}
	return nil
}

func (r *repoPG) ListStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, from_state, to_state, changed_by, changed_at
		FROM encounter_status_history WHERE encounter_id = $1 ORDER BY changed_at, id`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var out []*StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.EncounterID, &c.FromState, &c.ToState, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// -- Triage --

const triageCols = `id, encounter_id, severity, manchester_color, high_fever, respiratory_distress, chest_pain,
	neurological_change, active_bleeding, major_trauma, airway, breathing, circulation, avpu, pain_score,
	estimated_resources, notes, performed_by, created_at`

func (r *repoPG) CreateTriage(ctx context.Context, t *Triage) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage (id, encounter_id, severity, manchester_color, high_fever, respiratory_distress,
			chest_pain, neurological_change, active_bleeding, major_trauma, airway, breathing, circulation,
			avpu, pain_score, estimated_resources, notes, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at`,
		t.ID, t.EncounterID, t.Severity, t.ManchesterColor, t.HighFever, t.RespiratoryDistress,
		t.ChestPain, t.NeurologicalChange, t.ActiveBleeding, t.MajorTrauma, t.Airway, t.Breathing,
		t.Circulation, t.AVPU, t.PainScore, t.EstimatedResources, t.Notes, t.PerformedBy,
	).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err, "triage_encounter_id_key") {
		return fmt.Errorf("encounter %s already triaged: %w", t.EncounterID, apperr.ErrConflict)
	}
	return db.MapError(err, "triage for encounter "+t.EncounterID.String())
}

func (r *repoPG) GetTriage(ctx context.Context, encounterID uuid.UUID) (*Triage, error) {
	var t Triage
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+triageCols+` FROM triage WHERE encounter_id = $1`, encounterID).Scan(
		&t.ID, &t.EncounterID, &t.Severity, &t.ManchesterColor, &t.HighFever, &t.RespiratoryDistress,
		&t.ChestPain, &t.NeurologicalChange, &t.ActiveBleeding, &t.MajorTrauma, &t.Airway, &t.Breathing,
		&t.Circulation, &t.AVPU, &t.PainScore, &t.EstimatedResources, &t.Notes, &t.PerformedBy, &t.CreatedAt)
	if err != nil {
		return nil, db.MapError(err, "triage for encounter "+encounterID.String())
	}
	return &t, nil
}

// -- Diagnosis --

const diagnosisCols = `id, encounter_id, code, icd10_code, description, instructions, medication,
	COALESCE(disposition_type, ''), transfer_destination, time_of_death, physician_id, created_at, updated_at`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) CreateDiagnosis(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (id, encounter_id, code, icd10_code, description, instructions, medication,
			disposition_type, transfer_destination, time_of_death, physician_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		d.ID, d.EncounterID, d.Code, d.ICD10Code, d.Description, d.Instructions, d.Medication,
		nullIfEmpty(d.DispositionType), d.TransferDestination, d.TimeOfDeath, d.PhysicianID,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return db.MapError(err, "diagnosis for encounter "+d.EncounterID.String())
}

func (r *repoPG) UpdateDiagnosis(ctx context.Context, d *Diagnosis) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE diagnosis SET disposition_type = $2, transfer_destination = $3, time_of_death = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, nullIfEmpty(d.DispositionType), d.TransferDestination, d.TimeOfDeath,
	).Scan(&d.UpdatedAt)
	return db.MapError(err, "update diagnosis "+d.Code)
}

func (r *repoPG) GetDiagnosis(ctx context.Context, encounterID uuid.UUID) (*Diagnosis, error) {
	var d Diagnosis
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+diagnosisCols+` FROM diagnosis WHERE encounter_id = $1`, encounterID).Scan(
		&d.ID, &d.EncounterID, &d.Code, &d.ICD10Code, &d.Description, &d.Instructions, &d.Medication,
		&d.DispositionType, &d.TransferDestination, &d.TimeOfDeath, &d.PhysicianID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err, "diagnosis for encounter "+encounterID.String())
	}
	return &d, nil
}

var errNoTx = errors.New("diagnosis sequence requires a transaction")

func (r *repoPG) NextDiagnosisSeq(ctx context.Context, day time.Time) (int, error) {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return 0, errNoTx
	}
	prefix := strings.TrimSuffix(DiagnosisCode(day, 0), "0000")
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix); err != nil {
		return 0, fmt.Errorf("lock diagnosis sequence: %w", err)
	}
	var seq int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(split_part(code, '-', 3) AS INTEGER)), 0) + 1
		FROM diagnosis WHERE code LIKE $1 || '%'`, prefix).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next diagnosis sequence: %w", err)
	}
	return seq, nil
}

// -- Wait alerts --

func (r *repoPG) ListWaitCandidates(ctx context.Context) ([]*WaitCandidate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encounterColsE+`, t.severity
		FROM encounter e
		JOIN triage t ON t.encounter_id = e.id
		LEFT JOIN diagnosis d ON d.encounter_id = e.id
		WHERE e.state = 'at_hospital' AND e.arrived_at IS NOT NULL
			AND e.wait_alerted_at IS NULL AND d.id IS NULL
		ORDER BY e.arrived_at`)
	if err != nil {
		return nil, fmt.Errorf("list wait candidates: %w", err)
	}
	defer rows.Close()

	var out []*WaitCandidate
	for rows.Next() {
		var sev int
		e, err := scanEncounter(rows, &sev)
		if err != nil {
			return nil, err
		}
		out = append(out, &WaitCandidate{Encounter: e, Severity: sev})
	}
	return out, rows.Err()
}

func (r *repoPG) MarkWaitAlerted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET wait_alerted_at = $2
		WHERE id = $1 AND wait_alerted_at IS NULL AND state = 'at_hospital'
			AND NOT EXISTS (SELECT 1 FROM diagnosis WHERE encounter_id = $1)`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark wait alerted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// -- Vital signs --

const vitalCols = `id, encounter_id, systolic, diastolic, heart_rate, respiratory_rate, spo2, temperature, glucose,
	glasgow_eye, glasgow_verbal, glasgow_motor, glasgow, pain_score, gps_location, recorded_by, recorded_at`

func (r *repoPG) CreateVitalSigns(ctx context.Context, v *VitalSigns) error {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vital_signs (id, encounter_id, systolic, diastolic, heart_rate, respiratory_rate, spo2,
			temperature, glucose, glasgow_eye, glasgow_verbal, glasgow_motor, glasgow, pain_score, gps_location, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING recorded_at`,
		v.ID, v.EncounterID, v.Systolic, v.Diastolic, v.HeartRate, v.RespiratoryRate, v.SpO2,
		v.Temperature, v.Glucose, v.GlasgowEye, v.GlasgowVerbal, v.GlasgowMotor, v.Glasgow, v.PainScore,
		v.GPSLocation, v.RecordedBy,
	).Scan(&v.RecordedAt)
	return db.MapError(err, "create vital signs")
}

func (r *repoPG) ListVitalSigns(ctx context.Context, encounterID uuid.UUID) ([]*VitalSigns, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vitalCols+` FROM vital_signs
		WHERE encounter_id = $1 ORDER BY recorded_at DESC`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list vital signs: %w", err)
	}
	defer rows.Close()

	var out []*VitalSigns
	for rows.Next() {
		var v VitalSigns
		if err := rows.Scan(&v.ID, &v.EncounterID, &v.Systolic, &v.Diastolic, &v.HeartRate, &v.RespiratoryRate,
			&v.SpO2, &v.Temperature, &v.Glucose, &v.GlasgowEye, &v.GlasgowVerbal, &v.GlasgowMotor, &v.Glasgow,
			&v.PainScore, &v.GPSLocation, &v.RecordedBy, &v.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// -- Medication requests --

const medicationCols = `id, encounter_id, requested_by, medication, dose, route, justification, state,
	responded_by, response, requested_at, responded_at`

func scanMedication(row pgx.Row) (*MedicationRequest, error) {
	var m MedicationRequest
	err := row.Scan(&m.ID, &m.EncounterID, &m.RequestedBy, &m.Medication, &m.Dose, &m.Route, &m.Justification,
		&m.State, &m.RespondedBy, &m.Response, &m.RequestedAt, &m.RespondedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) CreateMedicationRequest(ctx context.Context, m *MedicationRequest) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_request (id, encounter_id, requested_by, medication, dose, route, justification, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING requested_at`,
		m.ID, m.EncounterID, m.RequestedBy, m.Medication, m.Dose, m.Route, m.Justification, m.State,
	).Scan(&m.RequestedAt)
	return db.MapError(err, "create medication request")
}

func (r *repoPG) GetMedicationRequest(ctx context.Context, id uuid.UUID) (*MedicationRequest, error) {
	m, err := scanMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+medicationCols+` FROM medication_request WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "medication request "+id.String())
	}
	return m, nil
}

func (r *repoPG) AnswerMedicationRequest(ctx context.Context, m *MedicationRequest) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_request SET state = $2, responded_by = $3, response = $4, responded_at = $5
		WHERE id = $1 AND state = 'pending'`,
		m.ID, m.State, m.RespondedBy, m.Response, m.RespondedAt)
	if err != nil {
		return fmt.Errorf("answer medication request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medication request %s already answered: %w", m.ID, apperr.ErrConflict)
	}
	return nil
}

func (r *repoPG) ListMedicationRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*MedicationRequest, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR encounter_id = $1) AND ($2 = '' OR state = $2)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medication_request`+where, f.EncounterID, f.State).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medication requests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medicationCols+` FROM medication_request`+where+`
		ORDER BY requested_at DESC LIMIT $3 OFFSET $4`, f.EncounterID, f.State, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medication requests: %w", err)
	}
	defer rows.Close()

	var out []*MedicationRequest
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// -- Exam requests --

const examCols = `id, encounter_id, requested_by, exam_type, exams, justification, priority, state,
	observations, results, requested_at, updated_at`

func scanExam(row pgx.Row) (*ExamRequest, error) {
	var x ExamRequest
	err := row.Scan(&x.ID, &x.EncounterID, &x.RequestedBy, &x.ExamType, &x.Exams, &x.Justification,
		&x.Priority, &x.State, &x.Observations, &x.Results, &x.RequestedAt, &x.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (r *repoPG) CreateExamRequest(ctx context.Context, x *ExamRequest) error {
	x.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO exam_request (id, encounter_id, requested_by, exam_type, exams, justification, priority, state, observations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING requested_at, updated_at`,
		x.ID, x.EncounterID, x.RequestedBy, x.ExamType, x.Exams, x.Justification, x.Priority, x.State, x.Observations,
	).Scan(&x.RequestedAt, &x.UpdatedAt)
	return db.MapError(err, "create exam request")
}

func (r *repoPG) GetExamRequest(ctx context.Context, id uuid.UUID) (*ExamRequest, error) {
	x, err := scanExam(r.conn(ctx).QueryRow(ctx, `SELECT `+examCols+` FROM exam_request WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "exam request "+id.String())
	}
	return x, nil
}

func (r *repoPG) UpdateExamRequest(ctx context.Context, x *ExamRequest, from string) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE exam_request SET state = $3, observations = $4, results = $5, updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING updated_at`,
		x.ID, from, x.State, x.Observations, x.Results,
	).Scan(&x.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("exam request %s is no longer %s: %w", x.ID, from, apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update exam request: %w", err)
	}
	return nil
}

func (r *repoPG) ListExamRequests(ctx context.Context, f OrderFilter, limit, offset int) ([]*ExamRequest, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR encounter_id = $1) AND ($2 = '' OR state = $2)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM exam_request`+where, f.EncounterID, f.State).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exam requests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+examCols+` FROM exam_request`+where+`
		ORDER BY requested_at DESC LIMIT $3 OFFSET $4`, f.EncounterID, f.State, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list exam requests: %w", err)
	}
	defer rows.Close()

	var out []*ExamRequest
	for rows.Next() {
		x, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, x)
	}
	return out, total, rows.Err()
}
