package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/platform/validate"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ScopeResolver returns the hospitals a user may see.
type ScopeResolver interface {
	HospitalScope(ctx context.Context, userID uuid.UUID, role string) (account.Scope, error)
}

type Service struct {
	repo   FeedRepository
	scopes ScopeResolver
}

func NewService(repo FeedRepository, scopes ScopeResolver) *Service {
	return &Service{repo: repo, scopes: scopes}
}

// Feed returns items of kind after since within scope. Next is the time of
// the last item, or since when there is none.
func (s *Service) Feed(ctx context.Context, kind Kind, since time.Time, scope account.Scope, limit int) (*Page, error) {
	if !ValidKind(kind) {
		return nil, validate.Field("kind", "must be results or rejections")
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	page := &Page{Items: []Item{}, Next: since}
	var hospitals []uuid.UUID
	if !scope.All {
		if len(scope.HospitalIDs) == 0 {
			return page, nil
		}
		hospitals = scope.HospitalIDs
	}

	items, err := s.repo.Items(ctx, kind, since, hospitals, limit)
	if err != nil {
		return nil, err
	}
	page.Items = items
	for _, it := range items {
		if it.At.After(page.Next) {
			page.Next = it.At
		}
	}
	return page, nil
}

// FeedFor resolves the user's hospital scope and returns their feed.
func (s *Service) FeedFor(ctx context.Context, userID uuid.UUID, role string, kind Kind, since time.Time, limit int) (*Page, error) {
	scope, err := s.scopes.HospitalScope(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return s.Feed(ctx, kind, since, scope, limit)
}
