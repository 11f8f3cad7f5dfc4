package facility

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/validate"
)

// Site holds the address and contact fields shared by nodal centers and
// hospitals.
type Site struct {
	Name          string `json:"name"`
	Code          string `json:"code"`
	Address       string `json:"address"`
	City          string `json:"city"`
	State         string `json:"state"`
	Pincode       string `json:"pincode"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
}

func (s *Site) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Code = strings.ToUpper(strings.TrimSpace(s.Code))
	s.Address = strings.TrimSpace(s.Address)
	s.City = strings.TrimSpace(s.City)
	s.State = strings.TrimSpace(s.State)
	s.Pincode = strings.TrimSpace(s.Pincode)
	s.ContactPerson = strings.TrimSpace(s.ContactPerson)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Email = strings.ToLower(strings.TrimSpace(s.Email))
}

func (s *Site) validate(errs validate.Errors) {
	if errs.Required("name", s.Name) {
		errs.Check(validate.Name(s.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	if errs.Required("code", s.Code) {
		errs.Check(validate.Code(s.Code), "code", "must be 2-20 upper-case letters, digits, - or _")
	}
	errs.Optional("pincode", s.Pincode, validate.Pincode, "must be a 6 digit pincode")
	errs.Optional("phone", s.Phone, validate.Phone, "must be a 10 digit mobile number")
	errs.Optional("email", s.Email, validate.Email, "must be a valid email address")
	errs.Optional("contact_person", s.ContactPerson, validate.Name, "must be a valid name")
}

// Nodal is a regional center that receives and processes samples.
type Nodal struct {
	ID uuid.UUID `json:"id"`
	Site
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hospital sends its samples to exactly one nodal center.
type Hospital struct {
	ID      uuid.UUID `json:"id"`
	NodalID uuid.UUID `json:"nodal_id"`
	Site
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
