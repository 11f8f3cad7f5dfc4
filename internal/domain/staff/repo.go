package staff

import (
	"context"

	"github.com/google/uuid"
)

type TechnicianRepository interface {
	Create(ctx context.Context, t *Technician) error
	GetByID(ctx context.Context, id uuid.UUID) (*Technician, error)
	GetByCode(ctx context.Context, code string) (*Technician, error)
	Update(ctx context.Context, t *Technician) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Technician, int, error)
	ListByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Technician, int, error)
}

// NodalLookup confirms a nodal center exists.
type NodalLookup interface {
	NodalExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserLookup confirms a login account exists.
type UserLookup interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
}
