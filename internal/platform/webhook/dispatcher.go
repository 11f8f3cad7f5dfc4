package webhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/websocket"
)

const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 4
	// DefaultDeadline bounds the delivery of one event to all its endpoints,
	// retries included.
	DefaultDeadline = time.Minute
)

// ErrQueueFull is returned by Dispatcher.Publish when the event was dropped.
var ErrQueueFull = errors.New("webhook queue full")

// TenantFunc runs fn with a context bound to tenant's schema.
type TenantFunc func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

type DispatcherConfig struct {
	QueueSize int
	Workers   int
	Deadline  time.Duration
}

type job struct {
	tenant string
	event  websocket.Event
}

// Dispatcher queues alert events and delivers them to webhooks on its own
// workers, so a slow endpoint never holds up the caller.
type Dispatcher struct {
	mgr        *Manager
	withTenant TenantFunc
	cfg        DispatcherConfig
	queue      chan job
	logger     zerolog.Logger
}

var _ websocket.EventPublisher = (*Dispatcher)(nil)

func NewDispatcher(mgr *Manager, withTenant TenantFunc, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Dispatcher{
		mgr:        mgr,
		withTenant: withTenant,
		cfg:        cfg,
		queue:      make(chan job, cfg.QueueSize),
		logger:     logger.With().Str("component", "webhook-dispatcher").Logger(),
	}
}

// Publish queues event for the tenant in ctx and returns at once. Events on
// hospital topics are ignored, as Manager.Publish would ignore them.
func (d *Dispatcher) Publish(ctx context.Context, event websocket.Event) error {
	if strings.Count(event.Topic, ":") != 1 || event.Kind == "" {
		return nil
	}
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		return errors.New("webhook event without tenant")
	}
	select {
	case d.queue <- job{tenant: tenant, event: event}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled. Events still queued at
// that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Int("workers", d.cfg.Workers).Int("queue", d.cfg.QueueSize).Msg("webhook dispatcher started")
	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	if n := len(d.queue); n > 0 {
		d.logger.Warn().Int("events", n).Msg("webhook events dropped on shutdown")
	}
	d.logger.Info().Msg("webhook dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Deadline)
	defer cancel()
	err := d.withTenant(ctx, j.tenant, func(ctx context.Context) error {
		return d.mgr.Publish(ctx, j.event)
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("tenant", j.tenant).Str("kind", j.event.Kind).
			Str("sample_id", j.event.SampleID).Msg("webhook delivery failed")
	}
}
