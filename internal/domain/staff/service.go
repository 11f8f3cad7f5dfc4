package staff

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
)

type Service struct {
	techs  TechnicianRepository
	nodals NodalLookup
	users  UserLookup
}

func NewService(techs TechnicianRepository, nodals NodalLookup, users UserLookup) *Service {
	return &Service{techs: techs, nodals: nodals, users: users}
}

func (s *Service) CreateTechnician(ctx context.Context, t *Technician) error {
	if err := s.check(ctx, t, uuid.Nil); err != nil {
		return err
	}
	t.Active = true
	return s.techs.Create(ctx, t)
}

func (s *Service) GetTechnician(ctx context.Context, id uuid.UUID) (*Technician, error) {
	return s.techs.GetByID(ctx, id)
}

func (s *Service) UpdateTechnician(ctx context.Context, t *Technician) error {
	if _, err := s.techs.GetByID(ctx, t.ID); err != nil {
		return err
	}
	if err := s.check(ctx, t, t.ID); err != nil {
		return err
	}
	return s.techs.Update(ctx, t)
}

func (s *Service) DeleteTechnician(ctx context.Context, id uuid.UUID) error {
	return s.techs.Delete(ctx, id)
}

func (s *Service) TechnicianByCode(ctx context.Context, code string) (*Technician, error) {
	return s.techs.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListTechnicians(ctx context.Context, q string, limit, offset int) ([]*Technician, int, error) {
	return s.techs.List(ctx, q, limit, offset)
}

func (s *Service) ListTechniciansByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Technician, int, error) {
	return s.techs.ListByNodal(ctx, nodalID, limit, offset)
}

func (s *Service) check(ctx context.Context, t *Technician, self uuid.UUID) error {
	t.normalize()
	errs := t.validate()

	if t.NodalID != uuid.Nil {
		ok, err := s.nodals.NodalExists(ctx, t.NodalID)
		if err != nil {
			return err
		}
		errs.Check(ok, "nodal_id", "unknown nodal center")
	}
	if t.UserID != nil {
		ok, err := s.users.UserExists(ctx, *t.UserID)
		if err != nil {
			return err
		}
		errs.Check(ok, "user_id", "unknown user")
	}
	if err := errs.Err(); err != nil {
		return err
	}

	existing, err := s.techs.GetByCode(ctx, t.Code)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return apperr.Conflict("technician code %s already exists", t.Code)
	}
	return nil
}
