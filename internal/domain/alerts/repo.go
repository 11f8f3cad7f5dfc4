package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type FeedRepository interface {
	// Items returns events of kind strictly after since, oldest first. A nil
	// hospitalIDs matches every hospital.
	Items(ctx context.Context, kind Kind, since time.Time, hospitalIDs []uuid.UUID, limit int) ([]Item, error)
}
