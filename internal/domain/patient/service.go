package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrHasConsults refuses deletion of a patient that consults still
// reference. The record can be set inactive or deceased instead.
var ErrHasConsults = errors.New("patient has consults and cannot be deleted")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

var validStatuses = map[string]bool{
	StatusActive:   true,
	StatusInactive: true,
	StatusDeceased: true,
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !validStatuses[p.Status] {
		return fmt.Errorf("invalid status: %s", p.Status)
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	if !validStatuses[p.Status] {
		return fmt.Errorf("invalid status: %s", p.Status)
	}
	if _, err := s.repo.GetByID(ctx, p.ID); err != nil {
		return fmt.Errorf("patient not found: %w", err)
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	has, err := s.repo.HasConsults(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return ErrHasConsults
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func validate(p *Patient) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Species == "" {
		return fmt.Errorf("species is required")
	}
	if p.OwnerName == "" {
		return fmt.Errorf("owner name is required")
	}
	return nil
}
