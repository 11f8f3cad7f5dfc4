package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validate"
	"github.com/lims/lims/internal/platform/websocket"
)

// memStore keeps endpoints and deliveries in memory.
type memStore struct {
	mu         sync.Mutex
	endpoints  map[uuid.UUID]*Endpoint
	deliveries []*Delivery
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		endpoints: make(map[uuid.UUID]*Endpoint),
		clock:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) Create(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep.ID = uuid.New()
	ep.CreatedAt = s.tick()
	ep.UpdatedAt = ep.CreatedAt
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, apperr.NotFound("webhook")
	}
	cp := *ep
	return &cp, nil
}

func (s *memStore) Update(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.endpoints[ep.ID]
	if !ok {
		return apperr.NotFound("webhook")
	}
	ep.CreatedAt = cur.CreatedAt
	ep.UpdatedAt = s.tick()
	cp := *ep
	cp.Secret = cur.Secret
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return apperr.NotFound("webhook")
	}
	delete(s.endpoints, id)
	return nil
}

func (s *memStore) sorted() []*Endpoint {
	out := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		cp := *ep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) List(_ context.Context, limit, offset int) ([]*Endpoint, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sorted()
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (s *memStore) ListActive(_ context.Context, kind string) ([]*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Endpoint, 0)
	for _, ep := range s.sorted() {
		if ep.Status != StatusActive {
			continue
		}
		for _, k := range ep.Kinds {
			if k == kind {
				out = append(out, ep)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = s.tick()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (s *memStore) GetDelivery(_ context.Context, id uuid.UUID) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deliveries {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("webhook delivery")
}

func (s *memStore) ListDeliveries(_ context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Delivery, 0)
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		if s.deliveries[i].EndpointID == endpointID {
			cp := *s.deliveries[i]
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (s *memStore) all() []*Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Delivery(nil), s.deliveries...)
}

// receiver records POSTs and answers with the queued status codes, then 200.
type receiver struct {
	*httptest.Server
	mu       sync.Mutex
	codes    []int
	requests []received
}

type received struct {
	path   string
	header http.Header
	body   []byte
}

func newReceiver(t *testing.T, codes ...int) *receiver {
	t.Helper()
	r := &receiver{codes: codes}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, received{path: req.URL.Path, header: req.Header.Clone(), body: body})
		code := http.StatusOK
		if len(r.codes) > 0 {
			code, r.codes = r.codes[0], r.codes[1:]
		}
		r.mu.Unlock()
		w.WriteHeader(code)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) got() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.requests...)
}

var (
	hospitalA = uuid.MustParse("6f1c2a4e-1111-4c1e-9d2b-0a0a0a0a0a01")
	hospitalB = uuid.MustParse("6f1c2a4e-2222-4c1e-9d2b-0a0a0a0a0a02")
	sampleID  = uuid.MustParse("0b7d6c1e-3333-4f5a-8e9d-1c1c1c1c1c1c")
)

func tenantCtx() context.Context {
	return db.WithTenantConn(context.Background(), "north", nil)
}

func newTestManager(store Store, opts ...Option) *Manager {
	opts = append([]Option{WithKinds("results", "rejections"), WithRetryDelays()}, opts...)
	return NewManager(store, zerolog.Nop(), opts...)
}

func alertEvent(topic, kind string, hospital uuid.UUID) websocket.Event {
	data, _ := json.Marshal(map[string]interface{}{
		"sample_id":   sampleID,
		"hospital_id": hospital,
		"kind":        kind,
		"status":      "RESULTED",
	})
	return websocket.Event{
		Type:      "alert",
		Topic:     topic,
		Kind:      kind,
		SampleID:  sampleID.String(),
		Timestamp: time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
		Data:      data,
	}
}

func register(t *testing.T, m *Manager, url string, kinds []string, hospitals ...uuid.UUID) *Endpoint {
	t.Helper()
	ep := &Endpoint{URL: url, Kinds: kinds, HospitalIDs: hospitals}
	require.NoError(t, m.Register(tenantCtx(), ep))
	return ep
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"kind":"results"}`)
	sig := Sign(body, "s3cret-s3cret-s3cret")

	assert.Len(t, sig, 64)
	assert.True(t, Verify(body, "s3cret-s3cret-s3cret", sig))
	assert.True(t, Verify(body, "s3cret-s3cret-s3cret", "sha256="+sig))
	assert.False(t, Verify(body, "other-secret-value", sig))
	assert.False(t, Verify([]byte(`{"kind":"rejections"}`), "s3cret-s3cret-s3cret", sig))
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		ep    Endpoint
		field string
	}{
		{"missing url", Endpoint{Kinds: []string{"results"}}, "url"},
		{"relative url", Endpoint{URL: "/hook", Kinds: []string{"results"}}, "url"},
		{"ftp url", Endpoint{URL: "ftp://example.com/hook", Kinds: []string{"results"}}, "url"},
		{"no kinds", Endpoint{URL: "https://example.com/hook"}, "kinds"},
		{"unknown kind", Endpoint{URL: "https://example.com/hook", Kinds: []string{"orders"}}, "kinds"},
		{"bad status", Endpoint{URL: "https://example.com/hook", Kinds: []string{"results"}, Status: "off"}, "status"},
		{"short secret", Endpoint{URL: "https://example.com/hook", Kinds: []string{"results"}, Secret: "short"}, "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(newMemStore())
			ep := tt.ep
			err := m.Register(tenantCtx(), &ep)

			var verr *validate.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestRegister_Defaults(t *testing.T) {
	m := newTestManager(newMemStore())
	ep := &Endpoint{URL: " https://example.com/hook ", Kinds: []string{" Results", "results", "rejections"}}

	require.NoError(t, m.Register(tenantCtx(), ep))

	assert.NotEqual(t, uuid.Nil, ep.ID)
	assert.Equal(t, "https://example.com/hook", ep.URL)
	assert.Equal(t, []string{"results", "rejections"}, ep.Kinds)
	assert.Equal(t, StatusActive, ep.Status)
	assert.Len(t, ep.Secret, 64)
	assert.Empty(t, ep.HospitalIDs)
}

func TestPublish_DeliversSignedPayload(t *testing.T) {
	rcv := newReceiver(t)
	store := newMemStore()
	m := newTestManager(store)
	ep := register(t, m, rcv.URL, []string{"results"}, hospitalA)

	// The hospital topic is skipped; the tenant-wide topic is delivered.
	ctx := tenantCtx()
	require.NoError(t, m.Publish(ctx, alertEvent("north:results:"+hospitalA.String(), "results", hospitalA)))
	require.NoError(t, m.Publish(ctx, alertEvent("north:results", "results", hospitalA)))

	reqs := rcv.got()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.True(t, Verify(req.body, ep.Secret, req.header.Get(SignatureHeader)))
	assert.True(t, strings.HasPrefix(req.header.Get(SignatureHeader), "sha256="))
	assert.Equal(t, ep.ID.String(), req.header.Get(EndpointHeader))
	assert.NotEmpty(t, req.header.Get(TimestampHeader))
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))

	var p Payload
	require.NoError(t, json.Unmarshal(req.body, &p))
	assert.Equal(t, "results", p.Kind)
	assert.Equal(t, "north", p.Tenant)
	assert.Equal(t, sampleID.String(), p.SampleID)
	assert.Contains(t, string(p.Data), hospitalA.String())

	deliveries := store.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliverySuccess, deliveries[0].Status)
	assert.Equal(t, http.StatusOK, deliveries[0].StatusCode)
	assert.Equal(t, "ok", deliveries[0].ResponseBody)
	assert.Equal(t, 1, deliveries[0].Attempt)
	assert.Equal(t, p.ID, deliveries[0].EventID)
}

func TestPublish_Filters(t *testing.T) {
	rcv := newReceiver(t)
	m := newTestManager(newMemStore())
	register(t, m, rcv.URL+"/all", []string{"results", "rejections"})
	register(t, m, rcv.URL+"/a", []string{"results"}, hospitalA)
	paused := register(t, m, rcv.URL+"/paused", []string{"results"})
	_, err := m.Pause(tenantCtx(), paused.ID)
	require.NoError(t, err)

	ctx := tenantCtx()
	require.NoError(t, m.Publish(ctx, alertEvent("north:results", "results", hospitalB)))
	require.NoError(t, m.Publish(ctx, alertEvent("north:rejections", "rejections", hospitalA)))
	require.NoError(t, m.Publish(ctx, alertEvent("north:results", "results", hospitalA)))

	var paths []string
	for _, r := range rcv.got() {
		paths = append(paths, r.path)
	}
	assert.Equal(t, []string{"/all", "/all", "/all", "/a"}, paths)
}

func TestPublish_IgnoresEventsWithoutKind(t *testing.T) {
	rcv := newReceiver(t)
	m := newTestManager(newMemStore())
	register(t, m, rcv.URL, []string{"results"})

	require.NoError(t, m.Publish(tenantCtx(), websocket.Event{Type: "alert", Topic: "north:results"}))
	assert.Empty(t, rcv.got())
}

func TestPublish_RetriesUntilSuccess(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError, http.StatusBadGateway)
	store := newMemStore()
	m := newTestManager(store, WithRetryDelays(time.Millisecond, time.Millisecond))
	register(t, m, rcv.URL, []string{"results"})

	require.NoError(t, m.Publish(tenantCtx(), alertEvent("north:results", "results", hospitalA)))

	assert.Len(t, rcv.got(), 3)
	deliveries := store.all()
	require.Len(t, deliveries, 3)
	for i, d := range deliveries {
		assert.Equal(t, i+1, d.Attempt)
	}
	assert.Equal(t, DeliveryFailed, deliveries[0].Status)
	assert.Equal(t, "unexpected status 500", deliveries[0].Error)
	assert.Equal(t, DeliverySuccess, deliveries[2].Status)
	assert.Equal(t, deliveries[0].EventID, deliveries[2].EventID)
}

func TestPublish_ReportsFailures(t *testing.T) {
	rcv := newReceiver(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	store := newMemStore()
	m := newTestManager(store, WithRetryDelays(time.Millisecond))
	register(t, m, rcv.URL, []string{"results"})
	register(t, m, "http://127.0.0.1:1/unreachable", []string{"rejections"})

	// Only the results endpoint is attempted.

	err := m.Publish(tenantCtx(), alertEvent("north:results", "results", hospitalA))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 webhook deliveries failed")

	deliveries := store.all()
	require.Len(t, deliveries, 2)
	assert.Equal(t, DeliveryFailed, deliveries[1].Status)
	assert.Equal(t, http.StatusServiceUnavailable, deliveries[1].StatusCode)
}

func TestPublish_TransportError(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	register(t, m, "http://127.0.0.1:1/unreachable", []string{"results"})

	require.Error(t, m.Publish(tenantCtx(), alertEvent("north:results", "results", hospitalA)))
	deliveries := store.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, 0, deliveries[0].StatusCode)
	assert.NotEmpty(t, deliveries[0].Error)
}

func TestPublish_StopsRetryingOnCancel(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError, http.StatusInternalServerError)
	store := newMemStore()
	m := newTestManager(store, WithRetryDelays(time.Hour))
	register(t, m, rcv.URL, []string{"results"})

	ctx, cancel := context.WithTimeout(tenantCtx(), 50*time.Millisecond)
	defer cancel()
	err := m.Publish(ctx, alertEvent("north:results", "results", hospitalA))

	require.Error(t, err)
	assert.Len(t, rcv.got(), 1)
}

func TestRetry(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError)
	store := newMemStore()
	m := newTestManager(store)
	register(t, m, rcv.URL, []string{"results"})
	ctx := tenantCtx()

	require.Error(t, m.Publish(ctx, alertEvent("north:results", "results", hospitalA)))
	failed := store.all()[0]

	d, err := m.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliverySuccess, d.Status)
	assert.Equal(t, 2, d.Attempt)
	assert.Equal(t, failed.EventID, d.EventID)

	reqs := rcv.got()
	require.Len(t, reqs, 2)
	assert.Equal(t, string(reqs[0].body), string(reqs[1].body))

	_, err = m.Retry(ctx, d.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = m.Retry(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRetry_PausedEndpoint(t *testing.T) {
	rcv := newReceiver(t, http.StatusInternalServerError)
	store := newMemStore()
	m := newTestManager(store)
	ep := register(t, m, rcv.URL, []string{"results"})
	ctx := tenantCtx()

	require.Error(t, m.Publish(ctx, alertEvent("north:results", "results", hospitalA)))
	_, err := m.Pause(ctx, ep.ID)
	require.NoError(t, err)

	_, err = m.Retry(ctx, store.all()[0].ID)
	var verr *validate.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestTest_SendsToPausedEndpoint(t *testing.T) {
	rcv := newReceiver(t)
	m := newTestManager(newMemStore())
	ep := register(t, m, rcv.URL, []string{"results"})
	ctx := tenantCtx()
	_, err := m.Pause(ctx, ep.ID)
	require.NoError(t, err)

	d, err := m.Test(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliverySuccess, d.Status)
	assert.Equal(t, KindTest, d.Kind)

	reqs := rcv.got()
	require.Len(t, reqs, 1)
	var p Payload
	require.NoError(t, json.Unmarshal(reqs[0].body, &p))
	assert.Equal(t, KindTest, p.Kind)
	assert.JSONEq(t, `{"message":"webhook test"}`, string(p.Data))
}

func TestUpdate_KeepsSecretAndStatus(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ep := register(t, m, "https://example.com/hook", []string{"results"})
	ctx := tenantCtx()
	_, err := m.Pause(ctx, ep.ID)
	require.NoError(t, err)

	upd := &Endpoint{ID: ep.ID, URL: "https://example.com/v2", Kinds: []string{"rejections"}, Secret: "ignored-ignored-ignored"}
	require.NoError(t, m.Update(ctx, upd))

	got, err := m.Get(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v2", got.URL)
	assert.Equal(t, []string{"rejections"}, got.Kinds)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, ep.Secret, got.Secret)

	err = m.Update(ctx, &Endpoint{ID: uuid.New(), URL: "https://example.com", Kinds: []string{"results"}})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPauseResume(t *testing.T) {
	m := newTestManager(newMemStore())
	ep := register(t, m, "https://example.com/hook", []string{"results"})
	ctx := tenantCtx()

	got, err := m.Pause(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)

	got, err = m.Resume(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	_, err = m.Pause(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeliveries_NewestFirst(t *testing.T) {
	rcv := newReceiver(t)
	m := newTestManager(newMemStore())
	ep := register(t, m, rcv.URL, []string{"results"})
	ctx := tenantCtx()

	first, err := m.Test(ctx, ep.ID)
	require.NoError(t, err)
	second, err := m.Test(ctx, ep.ID)
	require.NoError(t, err)

	list, total, err := m.Deliveries(ctx, ep.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, _, err = m.Deliveries(ctx, uuid.New(), 10, 0)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestManagerIsPublisher(t *testing.T) {
	rcv := newReceiver(t)
	m := newTestManager(newMemStore())
	register(t, m, rcv.URL, []string{"results"})

	hub := websocket.NewHub(zerolog.Nop())
	pubs := websocket.Publishers{hub, m}
	ev := alertEvent("north:results", "results", hospitalA)
	require.NoError(t, pubs.Publish(tenantCtx(), ev))
	assert.Len(t, rcv.got(), 1)
}
