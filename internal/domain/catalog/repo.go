package catalog

import (
	"context"

	"github.com/google/uuid"
)

type KitRepository interface {
	Create(ctx context.Context, k *Kit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Kit, error)
	GetByCode(ctx context.Context, code string) (*Kit, error)
	Update(ctx context.Context, k *Kit) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Kit, int, error)
}

type InvestigationRepository interface {
	Create(ctx context.Context, inv *Investigation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error)
	GetByCode(ctx context.Context, code string) (*Investigation, error)
	// GetMany returns the investigations that exist among ids, in no
	// particular order.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Investigation, error)
	Update(ctx context.Context, inv *Investigation) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Investigation, int, error)
}

// ProfileRepository stores profiles with their ordered investigation lists.
// Create and Update write several rows and must run inside a transaction.
type ProfileRepository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	GetByCode(ctx context.Context, code string) (*Profile, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Profile, error)
	Update(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Profile, int, error)
}
