package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func newTestClient(topics ...string) *Client {
	c := NewClient("user-1", nil)
	c.Topics = topics
	return c
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("north:results")

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("north:results") != 1 {
		t.Fatalf("expected 1 client on north:results, got %d", hub.TopicCount("north:results"))
	}
}

func TestHub_RegisterFiltersInitialTopics(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", func(topic string) bool { return strings.HasPrefix(topic, "north:") })
	client.Topics = []string{"north:results", "south:results"}

	hub.Register(client)

	if hub.TopicCount("south:results") != 0 {
		t.Fatal("expected disallowed topic to be skipped")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "north:results" {
		t.Fatalf("expected topics [north:results], got %v", client.Topics)
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("north:rejections")

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("north:rejections") != 0 {
		t.Fatalf("expected 0 clients on north:rejections, got %d", hub.TopicCount("north:rejections"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("north:results")
	hub.Register(client)
	hub.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatal("expected send channel to be closed")
	}

	// A second unregister is a no-op rather than a double close.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := newTestHub()
	subscribed := newTestClient("north:results:h1")
	other := newTestClient("north:results:h2")
	hub.Register(subscribed)
	hub.Register(other)

	n := hub.Broadcast("north:results:h1", Event{Type: "result.approved", Topic: "north:results:h1", SampleID: "s1"})
	if n != 1 {
		t.Fatalf("expected delivery to 1 client, got %d", n)
	}

	select {
	case msg := <-subscribed.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.SampleID != "s1" {
			t.Errorf("expected sample s1, got %q", ev.SampleID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected message on subscribed client")
	}

	select {
	case <-other.Send:
		t.Fatal("client on another topic should not receive the event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	if n := hub.Broadcast("nobody", Event{Type: "x"}); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := newTestHub()
	client := &Client{ID: "slow", Send: make(chan []byte, 1)}
	hub.Register(client)
	hub.Subscribe(client, []string{"t"})

	if n := hub.Broadcast("t", Event{Type: "a"}); n != 1 {
		t.Fatalf("expected first delivery, got %d", n)
	}
	if n := hub.Broadcast("t", Event{Type: "b"}); n != 0 {
		t.Fatalf("expected full buffer to drop the event, got %d", n)
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := newTestHub()
	client := newTestClient("north:results")
	hub.Register(client)

	err := hub.Publish(context.Background(), Event{Type: "result.approved", Topic: "north:results", Kind: "results"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-client.Send:
		if !strings.Contains(string(msg), `"kind":"results"`) {
			t.Errorf("unexpected payload %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected published event")
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := newTestClient()
	hub.Register(client)

	accepted := hub.Subscribe(client, []string{"a", "b", "a", ""})
	if len(accepted) != 3 {
		t.Fatalf("expected 3 accepted entries, got %v", accepted)
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected duplicate topic to be tracked once, got %v", client.Topics)
	}
	if hub.TopicCount("a") != 1 || hub.TopicCount("b") != 1 {
		t.Fatal("expected one subscriber on each topic")
	}

	hub.Unsubscribe(client, []string{"a"})
	if hub.TopicCount("a") != 0 {
		t.Fatal("expected topic a to be empty after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "b" {
		t.Fatalf("expected remaining topics [b], got %v", client.Topics)
	}
}

func TestHub_SubscribeRespectsFilter(t *testing.T) {
	hub := newTestHub()
	client := NewClient("user-1", func(topic string) bool { return topic == "north:results:h1" })
	hub.Register(client)

	accepted := hub.Subscribe(client, []string{"north:results:h1", "north:results:h2"})
	if len(accepted) != 1 || accepted[0] != "north:results:h1" {
		t.Fatalf("expected only h1 accepted, got %v", accepted)
	}
	if hub.TopicCount("north:results:h2") != 0 {
		t.Fatal("expected filtered topic to have no subscribers")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	client := newTestClient()
	hub.Register(client)

	ack := hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"north:results"}})
	if ack == nil || ack.Type != "subscribed" {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}
	var topics []string
	if err := json.Unmarshal(ack.Data, &topics); err != nil || len(topics) != 1 {
		t.Fatalf("expected one acknowledged topic, got %s (%v)", ack.Data, err)
	}

	ack = hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"north:results"}})
	if ack == nil || ack.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %+v", ack)
	}
	if hub.TopicCount("north:results") != 0 {
		t.Fatal("expected topic to be empty")
	}

	if ack := hub.ProcessMessage(client, ClientMessage{Action: "dance"}); ack != nil {
		t.Fatalf("expected nil ack for unknown action, got %+v", ack)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient("north:results")
			hub.Register(c)
			hub.Broadcast("north:results", Event{Type: "ping"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestEvent_JSONSerialization(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := Event{
		Type:      "sample.rejected",
		Topic:     "north:rejections:h1",
		Kind:      "rejections",
		SampleID:  "abc",
		Timestamp: ts,
		Data:      json.RawMessage(`{"reason":"hemolysed"}`),
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != "rejections" || decoded.SampleID != "abc" || !decoded.Timestamp.Equal(ts) {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if string(decoded.Data) != `{"reason":"hemolysed"}` {
		t.Errorf("unexpected data %s", decoded.Data)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestHub(), nil, nil, zerolog.Nop())
	h.RegisterRoutes(e.Group("/api/v1"))

	found := false
	for _, r := range e.Routes() {
		if r.Method == http.MethodGet && r.Path == "/api/v1/ws" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /api/v1/ws to be registered")
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	h := NewHandler(newTestHub(), nil, nil, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = h.HandleConnect(c)
	if rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_AuthorizerError(t *testing.T) {
	denied := echo.NewHTTPError(http.StatusForbidden, "no")
	h := NewHandler(newTestHub(), func(echo.Context) (TopicFilter, error) { return nil, denied }, nil, zerolog.Nop())

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil), httptest.NewRecorder())

	err := h.HandleConnect(c)
	if !errors.Is(err, denied) {
		t.Fatalf("expected authorizer error, got %v", err)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(newTestHub(), nil, []string{"https://lab.example"}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	if !h.upgrader.CheckOrigin(req) {
		t.Error("expected request without Origin to be allowed")
	}
	req.Header.Set("Origin", "https://lab.example")
	if !h.upgrader.CheckOrigin(req) {
		t.Error("expected configured origin to be allowed")
	}
	req.Header.Set("Origin", "https://evil.example")
	if h.upgrader.CheckOrigin(req) {
		t.Error("expected unknown origin to be rejected")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	allowNorth := func(echo.Context) (TopicFilter, error) {
		return func(topic string) bool { return strings.HasPrefix(topic, "north:") }, nil
	}
	h := NewHandler(hub, allowNorth, nil, zerolog.Nop())

	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"north:results", "south:results"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack Event
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("failed to read ack: %v", err)
	}
	if ack.Type != "subscribed" {
		t.Fatalf("expected subscribed ack, got %s", ack.Type)
	}
	var accepted []string
	if err := json.Unmarshal(ack.Data, &accepted); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(accepted) != 1 || accepted[0] != "north:results" {
		t.Fatalf("expected only north:results accepted, got %v", accepted)
	}

	hub.Broadcast("north:results", Event{Type: "result.approved", Topic: "north:results", SampleID: "s-1", Timestamp: time.Now()})

	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "result.approved" || received.SampleID != "s-1" {
		t.Fatalf("unexpected event %+v", received)
	}
}
