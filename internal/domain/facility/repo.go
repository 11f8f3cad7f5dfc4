package facility

import (
	"context"

	"github.com/google/uuid"
)

type NodalRepository interface {
	Create(ctx context.Context, n *Nodal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Nodal, error)
	GetByCode(ctx context.Context, code string) (*Nodal, error)
	Update(ctx context.Context, n *Nodal) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Nodal, int, error)
}

type HospitalRepository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetByCode(ctx context.Context, code string) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, q string, limit, offset int) ([]*Hospital, int, error)
	ListByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Hospital, int, error)
	CountByNodal(ctx context.Context, nodalID uuid.UUID) (int, error)
}
