package websocket

import (
	"context"
	"errors"
)

// Publishers sends every event to each publisher in order. All publishers
// run even when one fails; the errors are joined.
type Publishers []EventPublisher

func (p Publishers) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, pub := range p {
		if err := pub.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
