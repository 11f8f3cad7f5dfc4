package staff

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/validate"
)

// Technician works at a nodal center and processes the samples it receives.
// UserID links the technician to a login account when they have one.
type Technician struct {
	ID            uuid.UUID  `json:"id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	NodalID       uuid.UUID  `json:"nodal_id"`
	Name          string     `json:"name"`
	Code          string     `json:"code"`
	Qualification string     `json:"qualification"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t *Technician) normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	t.Qualification = strings.TrimSpace(t.Qualification)
	t.Phone = strings.TrimSpace(t.Phone)
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	if t.UserID != nil && *t.UserID == uuid.Nil {
		t.UserID = nil
	}
}

func (t *Technician) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("name", t.Name) {
		errs.Check(validate.Name(t.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	if errs.Required("code", t.Code) {
		errs.Check(validate.Code(t.Code), "code", "must be 2-20 upper-case letters, digits, - or _")
	}
	if t.NodalID == uuid.Nil {
		errs.Add("nodal_id", "is required")
	}
	errs.Check(len(t.Qualification) <= 200, "qualification", "must be at most 200 characters")
	errs.Optional("phone", t.Phone, validate.Phone, "must be a 10 digit mobile number")
	errs.Optional("email", t.Email, validate.Email, "must be a valid email address")
	return errs
}
