package limsclient

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 10 * time.Second
	pollBatch           = 200
	maxPagesPerPoll     = 10
	defaultSeenCapacity = 10000
)

// Poller re-fetches one feed on an interval and hands each new item to
// handle exactly once.
type Poller struct {
	client   *Client
	kind     string
	interval time.Duration
	// Overlap re-reads this much history before the cursor on each poll.
	// Repeats are dropped by the seen set.
	Overlap time.Duration
	handle  func(Item)
	logger  zerolog.Logger

	cursor time.Time
	seen   *seenSet
}

func NewPoller(client *Client, kind string, since time.Time, interval time.Duration, handle func(Item), logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   client,
		kind:     kind,
		interval: interval,
		Overlap:  interval,
		handle:   handle,
		logger:   logger.With().Str("component", "lims-poller").Str("kind", kind).Logger(),
		cursor:   since,
		seen:     newSeenSet(defaultSeenCapacity),
	}
}

// Cursor returns the time the next poll reads from, before overlap.
func (p *Poller) Cursor() time.Time { return p.cursor }

// Run polls until ctx is cancelled. Failed polls are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches the feed once and returns how many new items were delivered.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	since := p.cursor.Add(-p.Overlap)
	delivered := 0
	for i := 0; i < maxPagesPerPoll; i++ {
		page, err := p.client.FeedPage(ctx, p.kind, since, pollBatch)
		if err != nil {
			return delivered, err
		}
		for _, it := range page.Items {
			if p.seen.add(it.SampleID + ":" + it.Kind) {
				p.handle(it)
				delivered++
			}
		}
		if page.Next.After(p.cursor) {
			p.cursor = page.Next
		}
		if len(page.Items) < pollBatch {
			break
		}
		since = page.Next
	}
	return delivered, nil
}

// seenSet is a bounded set that forgets its oldest keys first.
type seenSet struct {
	keys  map[string]struct{}
	order []string
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{keys: make(map[string]struct{}), limit: limit}
}

// add reports whether k was new.
func (s *seenSet) add(k string) bool {
	if _, ok := s.keys[k]; ok {
		return false
	}
	if len(s.order) == s.limit {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
	s.keys[k] = struct{}{}
	s.order = append(s.order, k)
	return true
}
