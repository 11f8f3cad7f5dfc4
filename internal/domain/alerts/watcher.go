package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/platform/websocket"
)

const (
	DefaultInterval = 10 * time.Second
	// watcherBatch caps the items fetched per tenant and kind on each tick.
	watcherBatch = MaxLimit
	// maxConcurrentTenants bounds the tenants polled at once.
	maxConcurrentTenants = 8
)

// TenantFunc runs fn with ctx bound to tenant's database schema.
type TenantFunc func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

// PublishCounter counts items pushed to subscribers.
type PublishCounter interface {
	AlertsPublished(kind string, n int)
}

type WatcherConfig struct {
	Tenants  []string
	Kinds    []Kind
	Interval time.Duration
	// Overlap re-reads this much history before each cursor so events that
	// commit late are not skipped. The tracker drops the repeats.
	Overlap         time.Duration
	TrackerCapacity int
}

// Watcher polls the result and rejection feeds of every configured tenant
// and publishes new items on the websocket hub. Topics are
// <tenant>:<kind>:<hospital id> and <tenant>:<kind>.
type Watcher struct {
	cfg        WatcherConfig
	svc        *Service
	publisher  websocket.EventPublisher
	withTenant TenantFunc
	metrics    PublishCounter
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	trackers map[string]*Tracker
	cursors  map[string]time.Time
}

func NewWatcher(cfg WatcherConfig, svc *Service, publisher websocket.EventPublisher, withTenant TenantFunc, logger zerolog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = Kinds
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = 2 * cfg.Interval
	}
	return &Watcher{
		cfg:        cfg,
		svc:        svc,
		publisher:  publisher,
		withTenant: withTenant,
		logger:     logger.With().Str("component", "alert-watcher").Logger(),
		now:        time.Now,
		trackers:   make(map[string]*Tracker),
		cursors:    make(map[string]time.Time),
	}
}

func (w *Watcher) SetMetrics(m PublishCounter) { w.metrics = m }

// Run polls until ctx is cancelled. A failing tenant is logged and retried on
// the next tick.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info().Strs("tenants", w.cfg.Tenants).Dur("interval", w.cfg.Interval).Msg("alert watcher started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("alert poll failed")
		}
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("alert watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll checks every tenant once, concurrently, and returns the first error.
// Tenants that succeed still publish when another fails.
func (w *Watcher) Poll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(maxConcurrentTenants)
	for _, tenant := range w.cfg.Tenants {
		tenant := tenant
		g.Go(func() error {
			err := w.withTenant(ctx, tenant, func(ctx context.Context) error {
				return w.pollTenant(ctx, tenant)
			})
			if err != nil {
				return fmt.Errorf("tenant %s: %w", tenant, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) pollTenant(ctx context.Context, tenant string) error {
	for _, kind := range w.cfg.Kinds {
		if err := w.pollKind(ctx, tenant, kind); err != nil {
			return err
		}
	}
	return nil
}

// maxPagesPerTick bounds the catch-up reads for one tenant and kind.
const maxPagesPerTick = 10

func (w *Watcher) pollKind(ctx context.Context, tenant string, kind Kind) error {
	key := tenant + ":" + string(kind)
	tracker, cursor := w.state(key)
	since := cursor.Add(-w.cfg.Overlap)

	published := 0
	for i := 0; i < maxPagesPerTick; i++ {
		page, err := w.svc.Feed(ctx, kind, since, account.Scope{All: true}, watcherBatch)
		if err != nil {
			return err
		}
		fresh := tracker.Diff(page.Items)
		for _, it := range fresh {
			w.publish(ctx, tenant, it)
		}
		published += len(fresh)
		w.advance(key, page.Next)

		if len(page.Items) < watcherBatch {
			break
		}
		since = page.Next
	}

	if published > 0 {
		w.logger.Debug().Str("tenant", tenant).Str("kind", string(kind)).Int("items", published).Msg("alerts published")
		if w.metrics != nil {
			w.metrics.AlertsPublished(string(kind), published)
		}
	}
	return nil
}

// state returns the tracker and cursor for key. A new key starts at the
// current time so a restart does not replay old history.
func (w *Watcher) state(key string) (*Tracker, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.trackers[key]
	if !ok {
		t = NewTracker(w.cfg.TrackerCapacity)
		w.trackers[key] = t
		w.cursors[key] = w.now()
	}
	return t, w.cursors[key]
}

func (w *Watcher) advance(key string, next time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if next.After(w.cursors[key]) {
		w.cursors[key] = next
	}
}

func (w *Watcher) publish(ctx context.Context, tenant string, it Item) {
	data, err := json.Marshal(it)
	if err != nil {
		w.logger.Error().Err(err).Msg("encode alert")
		return
	}
	for _, topic := range Topics(tenant, it) {
		ev := websocket.Event{
			Type:      "alert",
			Topic:     topic,
			Kind:      string(it.Kind),
			SampleID:  it.SampleID.String(),
			Timestamp: it.At,
			Data:      data,
		}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			w.logger.Warn().Err(err).Str("topic", topic).Msg("publish alert")
		}
	}
}

// Topics returns the hospital topic and the tenant-wide topic for it.
func Topics(tenant string, it Item) []string {
	base := tenant + ":" + string(it.Kind)
	return []string{base + ":" + it.HospitalID.String(), base}
}
