// Package webhook delivers alert events to HTTP endpoints registered per
// tenant. Each POST carries an HMAC-SHA256 signature of the body made with
// the endpoint's secret, and every attempt is kept in a delivery log.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/validate"
)

const (
	StatusActive = "active"
	StatusPaused = "paused"

	DeliverySuccess = "success"
	DeliveryFailed  = "failed"

	SignatureHeader = "X-LIMS-Signature"
	EndpointHeader  = "X-LIMS-Webhook-ID"
	TimestampHeader = "X-LIMS-Timestamp"
)

// Endpoint is a receiver for one or more alert kinds. An empty HospitalIDs
// receives alerts for every hospital of the tenant.
type Endpoint struct {
	ID          uuid.UUID   `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Kinds       []string    `json:"kinds"`
	HospitalIDs []uuid.UUID `json:"hospital_ids"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (e *Endpoint) normalize() {
	e.URL = strings.TrimSpace(e.URL)
	e.Description = strings.TrimSpace(e.Description)
	kinds := make([]string, 0, len(e.Kinds))
	seen := map[string]bool{}
	for _, k := range e.Kinds {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	e.Kinds = kinds
	if e.HospitalIDs == nil {
		e.HospitalIDs = []uuid.UUID{}
	}
}

func (e *Endpoint) check(allowedKinds map[string]bool) validate.Errors {
	errs := validate.Errors{}
	if errs.Required("url", e.URL) {
		u, err := url.Parse(e.URL)
		ok := err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
		errs.Check(ok, "url", "must be an absolute http or https URL")
	}
	if len(e.Kinds) == 0 {
		errs.Add("kinds", "at least one kind is required")
	}
	for _, k := range e.Kinds {
		if len(allowedKinds) > 0 && !allowedKinds[k] {
			errs.Add("kinds", "unknown kind "+k)
			break
		}
	}
	errs.Check(e.Status == StatusActive || e.Status == StatusPaused, "status", "must be active or paused")
	errs.Check(len(e.Description) <= 200, "description", "must be at most 200 characters")
	return errs
}

func (e *Endpoint) wants(kind string, hospitalID uuid.UUID) bool {
	if e.Status != StatusActive {
		return false
	}
	match := false
	for _, k := range e.Kinds {
		if k == kind {
			match = true
			break
		}
	}
	if !match || len(e.HospitalIDs) == 0 {
		return match
	}
	for _, id := range e.HospitalIDs {
		if id == hospitalID {
			return true
		}
	}
	return false
}

// Payload is the JSON body POSTed to endpoints.
type Payload struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Tenant    string          `json:"tenant"`
	SampleID  string          `json:"sample_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Delivery is one attempt to deliver a payload to an endpoint.
type Delivery struct {
	ID           uuid.UUID       `json:"id"`
	EndpointID   uuid.UUID       `json:"endpoint_id"`
	EventID      uuid.UUID       `json:"event_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	StatusCode   int             `json:"status_code"`
	ResponseBody string          `json:"response_body"`
	DurationMS   int64           `json:"duration_ms"`
	Attempt      int             `json:"attempt"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature, with or without the "sha256=" prefix,
// matches payload under secret. Receivers use it to authenticate requests.
func Verify(payload []byte, secret, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
