package lab

import (
	"context"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/domain/account"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, hospitalID *uuid.UUID, scope *account.Scope, q string, limit, offset int) ([]*Patient, int, error)
}

type SampleRepository interface {
	Create(ctx context.Context, s *Sample) error
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	GetByBarcode(ctx context.Context, barcode string) (*Sample, error)
	List(ctx context.Context, f SampleFilter) ([]*Sample, int, error)
	// UpdateStatus writes s only while the stored status is still from.
	// A sample that moved in between yields apperr.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, s *Sample, from Status) error
	AddEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, sampleID uuid.UUID) ([]*Event, error)
}

type ResultRepository interface {
	Upsert(ctx context.Context, r *Result) error
	ListBySample(ctx context.Context, sampleID uuid.UUID) ([]*Result, error)
	DeleteBySample(ctx context.Context, sampleID uuid.UUID) error
}
