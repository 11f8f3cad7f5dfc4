// Package notification renders and delivers patient notices (report ready,
// sample rejected) over SMS or email and keeps a bounded in-memory history
// that admins can inspect and retry.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Built-in template IDs.
const (
	TemplateReportReady      = "report-ready"
	TemplateReportReadyEmail = "report-ready-email"
	TemplateSampleRejected   = "sample-rejected"
)

var ErrNotFound = errors.New("notification not found")

// Notification is a single outbound notice.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSender satisfies both sender interfaces by writing each message to the
// logger. It is what the server wires until a gateway is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Str("body", body).Msg("notification")
	return nil
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine with the built-in lab templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateReportReady,
			Body:    "Dear {{patient_name}}, your lab report for sample {{barcode}} is ready. Please collect it from {{hospital}}.",
			Channel: ChannelSMS,
		},
		{
			ID:      TemplateReportReadyEmail,
			Subject: "Lab report ready: {{barcode}}",
			Body:    "Dear {{patient_name}},\n\nYour lab report for sample {{barcode}} has been approved and is available at {{hospital}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateSampleRejected,
			Body:    "Dear {{patient_name}}, your sample {{barcode}} could not be processed ({{reason}}). {{hospital}} will contact you for a fresh collection.",
			Channel: ChannelSMS,
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) lookup(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render substitutes data into the template. Placeholders without data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.lookup(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

const defaultHistory = 1000

// Manager sends notifications and remembers the most recent ones.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	capacity  int
	now       func() time.Time

	mu      sync.RWMutex
	byID    map[string]*Notification
	history []string // ids, oldest first
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		email:     email,
		sms:       sms,
		templates: tpl,
		capacity:  defaultHistory,
		now:       func() time.Time { return time.Now().UTC() },
		byID:      make(map[string]*Notification),
	}
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		if m.email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		if m.sms == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	}
	return fmt.Errorf("unsupported channel %q", n.Channel)
}

// attempt delivers n and records the outcome. Callers hold no lock.
func (m *Manager) attempt(ctx context.Context, n *Notification) error {
	err := m.deliver(ctx, n)

	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return err
	}
	sentAt := m.now()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.Error = ""
	return nil
}

func (m *Manager) store(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[n.ID] = n
	m.history = append(m.history, n.ID)
	for len(m.history) > m.capacity {
		delete(m.byID, m.history[0])
		m.history = m.history[1:]
	}
}

// Send delivers n and stores it. A failed delivery is stored with status
// "failed" and its error is returned.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = m.now()
	n.Status = "pending"
	m.store(n)
	return m.attempt(ctx, n)
}

// SendTemplate renders templateID with data and sends the result to
// recipient over the template's channel.
func (m *Manager) SendTemplate(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	t, ok := m.templates.lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}

	n := &Notification{
		Channel:      t.Channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) Get(id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// List returns notifications newest first, optionally filtered by recipient
// and status.
func (m *Manager) List(recipient, status string, limit int) []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Notification, 0)
	for i := len(m.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		n := m.byID[m.history[i]]
		if recipient != "" && n.Recipient != recipient {
			continue
		}
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, *n)
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.byID[id]
	var status string
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if status != StatusFailed {
		return nil, fmt.Errorf("notification %s is %s, only failed notifications can be retried", id, status)
	}
	err := m.attempt(ctx, n)
	got, _ := m.Get(id)
	return got, err
}

// Stats counts stored notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.byID {
		stats[n.Status]++
	}
	return stats
}

// Handler exposes the notification history to admins.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes mounts the routes on g, which the caller restricts to admins.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

func (h *Handler) HandleList(c echo.Context) error {
	list := h.manager.List(c.QueryParam("recipient"), c.QueryParam("status"), 100)
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list, "total": len(list)})
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	n, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if n == nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	// A retry that fails again still returns the updated record.
	return c.JSON(http.StatusOK, n)
}

