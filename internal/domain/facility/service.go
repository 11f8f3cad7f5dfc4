package facility

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/validate"
)

type Service struct {
	nodals    NodalRepository
	hospitals HospitalRepository
}

func NewService(nodals NodalRepository, hospitals HospitalRepository) *Service {
	return &Service{nodals: nodals, hospitals: hospitals}
}

// -- Nodal --

func (s *Service) CreateNodal(ctx context.Context, n *Nodal) error {
	n.normalize()
	errs := validate.Errors{}
	n.validate(errs)
	if err := errs.Err(); err != nil {
		return err
	}
	if err := s.nodalCodeFree(ctx, n.Code, uuid.Nil); err != nil {
		return err
	}
	n.Active = true
	return s.nodals.Create(ctx, n)
}

func (s *Service) GetNodal(ctx context.Context, id uuid.UUID) (*Nodal, error) {
	return s.nodals.GetByID(ctx, id)
}

func (s *Service) UpdateNodal(ctx context.Context, n *Nodal) error {
	n.normalize()
	errs := validate.Errors{}
	n.validate(errs)
	if err := errs.Err(); err != nil {
		return err
	}
	if _, err := s.nodals.GetByID(ctx, n.ID); err != nil {
		return err
	}
	if err := s.nodalCodeFree(ctx, n.Code, n.ID); err != nil {
		return err
	}
	return s.nodals.Update(ctx, n)
}

// DeleteNodal refuses to remove a nodal center that hospitals still send
// samples to.
func (s *Service) DeleteNodal(ctx context.Context, id uuid.UUID) error {
	count, err := s.hospitals.CountByNodal(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperr.Conflict("nodal center still has %d hospital(s)", count)
	}
	return s.nodals.Delete(ctx, id)
}

// NodalByCode looks a nodal center up by its code.
func (s *Service) NodalByCode(ctx context.Context, code string) (*Nodal, error) {
	return s.nodals.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListNodals(ctx context.Context, q string, limit, offset int) ([]*Nodal, int, error) {
	return s.nodals.List(ctx, q, limit, offset)
}

func (s *Service) nodalCodeFree(ctx context.Context, code string, self uuid.UUID) error {
	existing, err := s.nodals.GetByCode(ctx, code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return apperr.Conflict("nodal center code %s already exists", code)
	}
	return nil
}

// -- Hospital --

func (s *Service) CreateHospital(ctx context.Context, h *Hospital) error {
	if err := s.checkHospital(ctx, h); err != nil {
		return err
	}
	if err := s.hospitalCodeFree(ctx, h.Code, uuid.Nil); err != nil {
		return err
	}
	h.Active = true
	return s.hospitals.Create(ctx, h)
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.hospitals.GetByID(ctx, id)
}

func (s *Service) UpdateHospital(ctx context.Context, h *Hospital) error {
	if err := s.checkHospital(ctx, h); err != nil {
		return err
	}
	if _, err := s.hospitals.GetByID(ctx, h.ID); err != nil {
		return err
	}
	if err := s.hospitalCodeFree(ctx, h.Code, h.ID); err != nil {
		return err
	}
	return s.hospitals.Update(ctx, h)
}

func (s *Service) DeleteHospital(ctx context.Context, id uuid.UUID) error {
	return s.hospitals.Delete(ctx, id)
}

func (s *Service) HospitalByCode(ctx context.Context, code string) (*Hospital, error) {
	return s.hospitals.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListHospitals(ctx context.Context, q string, limit, offset int) ([]*Hospital, int, error) {
	return s.hospitals.List(ctx, q, limit, offset)
}

func (s *Service) ListHospitalsByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Hospital, int, error) {
	if _, err := s.nodals.GetByID(ctx, nodalID); err != nil {
		return nil, 0, err
	}
	return s.hospitals.ListByNodal(ctx, nodalID, limit, offset)
}

func (s *Service) checkHospital(ctx context.Context, h *Hospital) error {
	h.normalize()
	errs := validate.Errors{}
	h.validate(errs)
	if h.NodalID == uuid.Nil {
		errs.Add("nodal_id", "is required")
	}
	if err := errs.Err(); err != nil {
		return err
	}

	_, err := s.nodals.GetByID(ctx, h.NodalID)
	if errors.Is(err, apperr.ErrNotFound) {
		return validate.Field("nodal_id", "unknown nodal center")
	}
	return err
}

func (s *Service) hospitalCodeFree(ctx context.Context, code string, self uuid.UUID) error {
	existing, err := s.hospitals.GetByCode(ctx, code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return apperr.Conflict("hospital code %s already exists", code)
	}
	return nil
}
