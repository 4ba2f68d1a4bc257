package encounter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/urgencias/internal/platform/apperr"
)

var validSexes = map[string]bool{SexMale: true, SexFemale: true, SexOther: true, SexUnknown: true}

// preparePatient normalizes p in place. Unidentified patients get a
// temporary id NN-YYYYMMDD-XXXXXX when none is supplied.
func (s *Service) preparePatient(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.Sex == "" {
		p.Sex = SexUnknown
	}
	if !validSexes[p.Sex] {
		return fmt.Errorf("invalid sex %q: %w", p.Sex, apperr.ErrValidation)
	}

	if p.Unidentified {
		p.NationalID = nil
		if p.TemporaryID == nil || strings.TrimSpace(*p.TemporaryID) == "" {
			tmp := fmt.Sprintf("NN-%s-%s", s.clock.Now().In(s.loc).Format("20060102"),
				strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6]))
			p.TemporaryID = &tmp
		}
		return nil
	}

	p.TemporaryID = nil
	if p.NationalID == nil || NormalizeRUT(*p.NationalID) == "" {
		return fmt.Errorf("identified patients require a national id: %w", apperr.ErrValidation)
	}
	rut := NormalizeRUT(*p.NationalID)
	p.NationalID = &rut
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("identified patients require first and last name: %w", apperr.ErrValidation)
	}
	return nil
}

func (s *Service) RegisterPatient(ctx context.Context, p *Patient, actor uuid.UUID) error {
	if err := s.preparePatient(p); err != nil {
		return err
	}
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return err
	}
	s.audit.Record(ctx, actor, "patient.registered", "patient", p.ID, map[string]any{"unidentified": p.Unidentified})
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Service) FindPatient(ctx context.Context, nationalID string) (*Patient, error) {
	rut := NormalizeRUT(nationalID)
	if rut == "" {
		return nil, fmt.Errorf("national id is required: %w", apperr.ErrValidation)
	}
	return s.repo.FindPatientByNationalID(ctx, rut)
}

func (s *Service) ListPatients(ctx context.Context, unidentified *bool, limit, offset int) ([]*Patient, int, error) {
	return s.repo.ListPatients(ctx, unidentified, limit, offset)
}
