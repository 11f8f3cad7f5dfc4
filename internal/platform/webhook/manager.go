package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validate"
	"github.com/lims/lims/internal/platform/websocket"
)

const (
	// KindTest marks payloads sent by Test.
	KindTest = "test"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1024
)

var defaultRetryDelays = []time.Duration{500 * time.Millisecond, 2 * time.Second}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithRetryDelays sets the waits between attempts. No delays means a single
// attempt per event.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(m *Manager) { m.delays = delays }
}

// WithKinds restricts the kinds an endpoint may subscribe to.
func WithKinds(kinds ...string) Option {
	return func(m *Manager) {
		m.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			m.kinds[k] = true
		}
	}
}

// Manager registers endpoints and delivers alert events to them. It
// implements websocket.EventPublisher so the alert watcher can fan out to
// webhooks next to the hub.
type Manager struct {
	store  Store
	client *http.Client
	delays []time.Duration
	kinds  map[string]bool
	logger zerolog.Logger
	now    func() time.Time
}

var _ websocket.EventPublisher = (*Manager)(nil)

func NewManager(store Store, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		client: &http.Client{Timeout: defaultTimeout},
		delays: defaultRetryDelays,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register validates ep, generates a secret when none is given and stores it.
func (m *Manager) Register(ctx context.Context, ep *Endpoint) error {
	if ep.Status == "" {
		ep.Status = StatusActive
	}
	ep.normalize()
	errs := ep.check(m.kinds)
	if ep.Secret != "" {
		errs.Check(len(ep.Secret) >= 16 && len(ep.Secret) <= 128, "secret", "must be 16 to 128 characters")
	}
	if err := errs.Err(); err != nil {
		return err
	}
	if ep.Secret == "" {
		secret, err := newSecret()
		if err != nil {
			return fmt.Errorf("generate webhook secret: %w", err)
		}
		ep.Secret = secret
	}
	return m.store.Create(ctx, ep)
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	return m.store.List(ctx, limit, offset)
}

// Update replaces the settings of an endpoint. A blank status keeps the
// current one. The secret never changes.
func (m *Manager) Update(ctx context.Context, ep *Endpoint) error {
	current, err := m.store.Get(ctx, ep.ID)
	if err != nil {
		return err
	}
	if ep.Status == "" {
		ep.Status = current.Status
	}
	ep.normalize()
	if err := ep.check(m.kinds).Err(); err != nil {
		return err
	}
	ep.Secret = current.Secret
	return m.store.Update(ctx, ep)
}

func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) Pause(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusPaused)
}

func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return m.setStatus(ctx, id, StatusActive)
}

func (m *Manager) setStatus(ctx context.Context, id uuid.UUID, status string) (*Endpoint, error) {
	ep, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep.Status == status {
		return ep, nil
	}
	ep.Status = status
	if err := m.store.Update(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Publish delivers event to every active endpoint of the tenant in ctx that
// wants its kind and hospital. Only tenant-wide topics ("<tenant>:<kind>")
// are delivered so each alert goes out once. Failed deliveries stay in the
// delivery log and are reported as a single error.
func (m *Manager) Publish(ctx context.Context, event websocket.Event) error {
	if strings.Count(event.Topic, ":") != 1 || event.Kind == "" {
		return nil
	}
	endpoints, err := m.store.ListActive(ctx, event.Kind)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	var ref struct {
		HospitalID uuid.UUID `json:"hospital_id"`
	}
	if len(event.Data) > 0 {
		_ = json.Unmarshal(event.Data, &ref)
	}

	payload := Payload{
		ID:        uuid.New(),
		Kind:      event.Kind,
		Tenant:    db.TenantFromContext(ctx),
		SampleID:  event.SampleID,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	sent, failed := 0, 0
	for _, ep := range endpoints {
		if !ep.wants(event.Kind, ref.HospitalID) {
			continue
		}
		sent++
		if d := m.deliver(ctx, ep, payload.ID, event.Kind, body); d.Status != DeliverySuccess {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhook deliveries failed", failed, sent)
	}
	return nil
}

// deliver posts body with retries and returns the last attempt.
func (m *Manager) deliver(ctx context.Context, ep *Endpoint, eventID uuid.UUID, kind string, body []byte) *Delivery {
	var d *Delivery
	for n := 1; n <= len(m.delays)+1; n++ {
		if n > 1 {
			timer := time.NewTimer(m.delays[n-2])
			select {
			case <-ctx.Done():
				timer.Stop()
				return d
			case <-timer.C:
			}
		}
		d = m.attempt(ctx, ep, eventID, kind, body, n)
		if d.Status == DeliverySuccess {
			break
		}
	}
	return d
}

// attempt makes one POST and records it in the delivery log.
func (m *Manager) attempt(ctx context.Context, ep *Endpoint, eventID uuid.UUID, kind string, body []byte, n int) *Delivery {
	d := &Delivery{
		EndpointID: ep.ID,
		EventID:    eventID,
		Kind:       kind,
		Payload:    json.RawMessage(body),
		Attempt:    n,
		Status:     DeliveryFailed,
	}

	start := time.Now()
	code, respBody, err := m.post(ctx, ep, body)
	d.DurationMS = time.Since(start).Milliseconds()
	d.StatusCode = code
	d.ResponseBody = respBody
	switch {
	case err != nil:
		d.Error = err.Error()
	case code < 200 || code > 299:
		d.Error = fmt.Sprintf("unexpected status %d", code)
	default:
		d.Status = DeliverySuccess
	}

	if err := m.store.RecordDelivery(ctx, d); err != nil {
		m.logger.Error().Err(err).Str("endpoint", ep.ID.String()).Msg("record webhook delivery")
	}
	ev := m.logger.Debug()
	if d.Status != DeliverySuccess {
		ev = m.logger.Warn().Str("error", d.Error)
	}
	ev.Str("endpoint", ep.ID.String()).Str("kind", kind).Int("attempt", n).
		Int("status", code).Int64("duration_ms", d.DurationMS).Msg("webhook delivery")
	return d
}

func (m *Manager) post(ctx context.Context, ep *Endpoint, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "lims-webhook/1.0")
	req.Header.Set(SignatureHeader, "sha256="+Sign(body, ep.Secret))
	req.Header.Set(EndpointHeader, ep.ID.String())
	req.Header.Set(TimestampHeader, strconv.FormatInt(m.now().Unix(), 10))

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, string(respBody), nil
}

// Test sends a single signed test payload to an endpoint, paused or not.
func (m *Manager) Test(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	ep, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	payload := Payload{
		ID:        uuid.New(),
		Kind:      KindTest,
		Tenant:    db.TenantFromContext(ctx),
		Timestamp: m.now().UTC(),
		Data:      json.RawMessage(`{"message":"webhook test"}`),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return m.attempt(ctx, ep, payload.ID, KindTest, body, 1), nil
}

// Retry resends the payload of a logged delivery once.
func (m *Manager) Retry(ctx context.Context, deliveryID uuid.UUID) (*Delivery, error) {
	prev, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if prev.Status == DeliverySuccess {
		return nil, apperr.Conflict("delivery %s already succeeded", deliveryID)
	}
	ep, err := m.store.Get(ctx, prev.EndpointID)
	if err != nil {
		return nil, err
	}
	if ep.Status != StatusActive {
		return nil, validate.Field("status", "webhook is paused")
	}
	return m.attempt(ctx, ep, prev.EventID, prev.Kind, prev.Payload, prev.Attempt+1), nil
}

// Deliveries lists the delivery log of an endpoint, newest first.
func (m *Manager) Deliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	if _, err := m.store.Get(ctx, endpointID); err != nil {
		return nil, 0, err
	}
	return m.store.ListDeliveries(ctx, endpointID, limit, offset)
}
