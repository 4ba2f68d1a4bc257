package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/domain/notification"
	"github.com/ehr/urgencias/internal/platform/apperr"
	"github.com/ehr/urgencias/internal/platform/auth"
)

// VitalSigns is one set of measurements taken in the field or at the
// hospital. Glasgow is the sum of its three components.
type VitalSigns struct {
	ID              uuid.UUID `db:"id" json:"id"`
	EncounterID     uuid.UUID `db:"encounter_id" json:"encounter_id"`
	Systolic        int       `db:"systolic" json:"systolic"`
	Diastolic       int       `db:"diastolic" json:"diastolic"`
	HeartRate       int       `db:"heart_rate" json:"heart_rate"`
	RespiratoryRate int       `db:"respiratory_rate" json:"respiratory_rate"`
	SpO2            int       `db:"spo2" json:"spo2"`
	Temperature     float64   `db:"temperature" json:"temperature"`
	Glucose         *int      `db:"glucose" json:"glucose,omitempty"`
	GlasgowEye      int       `db:"glasgow_eye" json:"glasgow_eye"`
	GlasgowVerbal   int       `db:"glasgow_verbal" json:"glasgow_verbal"`
	GlasgowMotor    int       `db:"glasgow_motor" json:"glasgow_motor"`
	Glasgow         int       `db:"glasgow" json:"glasgow"`
	PainScore       *int      `db:"pain_score" json:"pain_score,omitempty"`
	GPSLocation     string    `db:"gps_location" json:"gps_location,omitempty"`
	RecordedBy      uuid.UUID `db:"recorded_by" json:"recorded_by"`
	RecordedAt      time.Time `db:"recorded_at" json:"recorded_at"`
}

type bound struct {
	name     string
	v        int
	min, max int
}

// normalize fills unset Glasgow components with their normal scores,
// computes the total and checks every measurement against its range.
func (v *VitalSigns) normalize() error {
	if v.GlasgowEye == 0 {
		v.GlasgowEye = 4
	}
	if v.GlasgowVerbal == 0 {
		v.GlasgowVerbal = 5
	}
	if v.GlasgowMotor == 0 {
		v.GlasgowMotor = 6
	}
	checks := []bound{
		{"systolic", v.Systolic, 0, 300},
		{"diastolic", v.Diastolic, 0, 200},
		{"heart_rate", v.HeartRate, 0, 300},
		{"respiratory_rate", v.RespiratoryRate, 0, 100},
		{"spo2", v.SpO2, 0, 100},
		{"glasgow_eye", v.GlasgowEye, 1, 4},
		{"glasgow_verbal", v.GlasgowVerbal, 1, 5},
		{"glasgow_motor", v.GlasgowMotor, 1, 6},
	}
	if v.PainScore != nil {
		checks = append(checks, bound{"pain_score", *v.PainScore, 0, 10})
	}
	for _, c := range checks {
		if c.v < c.min || c.v > c.max {
			return fmt.Errorf("%s must be between %d and %d", c.name, c.min, c.max)
		}
	}
	if v.Temperature < 25 || v.Temperature > 45 {
		return fmt.Errorf("temperature must be between 25.0 and 45.0")
	}
	if v.Glucose != nil && *v.Glucose < 0 {
		return fmt.Errorf("glucose cannot be negative")
	}
	v.GPSLocation = strings.TrimSpace(v.GPSLocation)
	if len(v.GPSLocation) > 100 {
		return fmt.Errorf("gps_location is too long")
	}
	v.Glasgow = v.GlasgowEye + v.GlasgowVerbal + v.GlasgowMotor
	return nil
}

// RecordVitalSigns stores a set of vital signs on an open encounter and
// alerts every active physician.
func (s *Service) RecordVitalSigns(ctx context.Context, encounterID uuid.UUID, v *VitalSigns, actor uuid.UUID) (*VitalSigns, error) {
	if err := v.normalize(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	_, err := s.run(ctx, "vitals", encounterID, actor, func(ctx context.Context, e *Encounter, fx *effects) error {
		if IsTerminal(e.State) {
			return fmt.Errorf("encounter %s is closed: %w", e.ID, apperr.ErrInvalidTransition)
		}
		p, err := s.repo.GetPatient(ctx, e.PatientID)
		if err != nil {
			return err
		}
		v.EncounterID = e.ID
		v.RecordedBy = actor
		if err := s.repo.CreateVitalSigns(ctx, v); err != nil {
			return err
		}

		fx.record("encounter.vital_signs", "vital_signs", v.ID, map[string]any{
			"encounter_id": e.ID.String(), "glasgow": v.Glasgow, "spo2": v.SpO2,
		})
		fx.notify(notification.ByRole(auth.RolePhysician), notification.Alert{
			Type:  notification.TypeVitalSigns,
			Title: "New vital signs recorded",
			Message: fmt.Sprintf("BP %d/%d mmHg. HR %d bpm. Patient: %s",
				v.Systolic, v.Diastolic, v.HeartRate, p.DisplayName()),
			EncounterID: encounterRef(e),
			Priority:    notification.PriorityMedium,
			Data: map[string]any{
				"systolic":   v.Systolic,
				"diastolic":  v.Diastolic,
				"heart_rate": v.HeartRate,
				"spo2":       v.SpO2,
				"glasgow":    v.Glasgow,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVitalSigns returns an encounter's vital signs, newest first.
func (s *Service) ListVitalSigns(ctx context.Context, encounterID uuid.UUID) ([]*VitalSigns, error) {
	if _, err := s.repo.GetByID(ctx, encounterID); err != nil {
		return nil, err
	}
	return s.repo.ListVitalSigns(ctx, encounterID)
}
