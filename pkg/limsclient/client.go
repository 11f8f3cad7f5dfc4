// Package limsclient is a small Go client for the LIMS HTTP API. It covers
// login and the result and rejection feeds, and includes a Poller that
// delivers new feed items to a callback.
package limsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	KindResults    = "results"
	KindRejections = "rejections"

	defaultTimeout = 30 * time.Second
)

// Item mirrors one entry of GET /api/v1/alerts/{kind}.
type Item struct {
	SampleID    string    `json:"sample_id"`
	Barcode     string    `json:"barcode"`
	PatientName string    `json:"patient_name"`
	HospitalID  string    `json:"hospital_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

type Page struct {
	Items []Item    `json:"items"`
	Next  time.Time `json:"next"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lims api: status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	Tenant  string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, tenant string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tenant:  tenant,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encode login: %w", err)
	}
	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, body, &s); err != nil {
		return nil, err
	}
	c.Token = s.Token
	return &s, nil
}

// Feed returns items of kind recorded strictly after since, using the
// server's default page size.
func (c *Client) Feed(ctx context.Context, kind string, since time.Time) (*Page, error) {
	return c.FeedPage(ctx, kind, since, 0)
}

// FeedPage is Feed with an explicit page size. A zero limit leaves it to
// the server.
func (c *Client) FeedPage(ctx context.Context, kind string, since time.Time, limit int) (*Page, error) {
	if kind != KindResults && kind != KindRejections {
		return nil, fmt.Errorf("unknown feed kind %q", kind)
	}
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var p Page
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/"+kind, q, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tenant != "" {
		req.Header.Set("X-Tenant-ID", c.Tenant)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Message) > 0 {
		var msg string
		if json.Unmarshal(body.Message, &msg) == nil {
			apiErr.Message = msg
		} else {
			apiErr.Message = string(body.Message)
		}
	}
	return apiErr
}
