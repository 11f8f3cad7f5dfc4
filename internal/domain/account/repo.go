package account

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	List(ctx context.Context, q, role string, limit, offset int) ([]*User, int, error)
}

type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	Update(ctx context.Context, m *Mapping) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]*Mapping, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Mapping, error)
	// ScopeHospitals returns the hospitals covered by the user's active
	// mappings: mapped hospitals plus every hospital of a mapped nodal.
	ScopeHospitals(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// RefLookup confirms that mapping targets exist.
type RefLookup interface {
	HospitalExists(ctx context.Context, id uuid.UUID) (bool, error)
	NodalExists(ctx context.Context, id uuid.UUID) (bool, error)
}
