package lab

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/platform/validate"
)

type Status string

const (
	StatusRegistered Status = "registered"
	StatusCollected  Status = "collected"
	StatusReceived   Status = "received"
	StatusRejected   Status = "rejected"
	StatusResulted   Status = "resulted"
	StatusApproved   Status = "approved"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the statuses a sample may move to from each status.
var transitions = map[Status][]Status{
	StatusRegistered: {StatusCollected, StatusCancelled},
	StatusCollected:  {StatusReceived, StatusRejected},
	StatusReceived:   {StatusRejected, StatusResulted},
	StatusRejected:   {StatusCollected},
	StatusResulted:   {StatusApproved, StatusReceived},
}

// CanTransition reports whether a sample in from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusRegistered, StatusCollected, StatusReceived, StatusRejected,
		StatusResulted, StatusApproved, StatusCancelled:
		return true
	}
	return false
}

const (
	PriorityRoutine = "routine"
	PriorityUrgent  = "urgent"
)

var Genders = []string{"male", "female", "other"}

type Patient struct {
	ID         uuid.UUID `json:"id"`
	HospitalID uuid.UUID `json:"hospital_id"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	Gender     string    `json:"gender"`
	Phone      string    `json:"phone"`
	MRN        *string   `json:"mrn,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p *Patient) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	p.Phone = strings.TrimSpace(p.Phone)
	if p.MRN != nil {
		mrn := strings.TrimSpace(*p.MRN)
		if mrn == "" {
			p.MRN = nil
		} else {
			p.MRN = &mrn
		}
	}
}

func (p *Patient) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("name", p.Name) {
		errs.Check(validate.Name(p.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	errs.Check(p.Age >= 0 && p.Age <= 130, "age", "must be between 0 and 130")
	if errs.Required("gender", p.Gender) {
		errs.Check(validGender(p.Gender), "gender", "must be one of "+strings.Join(Genders, ", "))
	}
	errs.Optional("phone", p.Phone, validate.Phone, "must be a 10 digit mobile number")
	if p.MRN != nil {
		errs.Check(len(*p.MRN) <= 64, "mrn", "must be at most 64 characters")
	}
	errs.Check(p.HospitalID != uuid.Nil, "hospital_id", "is required")
	return errs
}

func validGender(g string) bool {
	for _, v := range Genders {
		if v == g {
			return true
		}
	}
	return false
}

type Sample struct {
	ID               uuid.UUID   `json:"id"`
	Barcode          string      `json:"barcode"`
	PatientID        uuid.UUID   `json:"patient_id"`
	HospitalID       uuid.UUID   `json:"hospital_id"`
	NodalID          uuid.UUID   `json:"nodal_id"`
	Status           Status      `json:"status"`
	Priority         string      `json:"priority"`
	ProfileIDs       []uuid.UUID `json:"profile_ids"`
	InvestigationIDs []uuid.UUID `json:"investigation_ids"`
	Notes            *string     `json:"notes,omitempty"`
	CollectedBy      *uuid.UUID  `json:"collected_by,omitempty"`
	CollectedAt      *time.Time  `json:"collected_at,omitempty"`
	ReceivedBy       *uuid.UUID  `json:"received_by,omitempty"`
	ReceivedAt       *time.Time  `json:"received_at,omitempty"`
	RejectReason     *string     `json:"reject_reason,omitempty"`
	RejectedAt       *time.Time  `json:"rejected_at,omitempty"`
	ResultedAt       *time.Time  `json:"resulted_at,omitempty"`
	ApprovedBy       *uuid.UUID  `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time  `json:"approved_at,omitempty"`
	CreatedBy        uuid.UUID   `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Ordered reports whether investigationID is part of the sample's order.
func (s *Sample) Ordered(investigationID uuid.UUID) bool {
	for _, id := range s.InvestigationIDs {
		if id == investigationID {
			return true
		}
	}
	return false
}

// Event is one row of a sample's status history.
type Event struct {
	ID       int64     `json:"id"`
	SampleID uuid.UUID `json:"sample_id"`
	From     Status    `json:"from_status"`
	To       Status    `json:"to_status"`
	Actor    uuid.UUID `json:"actor"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type Result struct {
	SampleID        uuid.UUID `json:"sample_id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	Value           string    `json:"value"`
	Unit            string    `json:"unit"`
	Flag            string    `json:"flag"`
	Remarks         string    `json:"remarks"`
	EnteredBy       uuid.UUID `json:"entered_by"`
	EnteredAt       time.Time `json:"entered_at"`
}

// ResultInput is one value typed in at result entry.
type ResultInput struct {
	InvestigationID uuid.UUID `json:"investigation_id"`
	Value           string    `json:"value"`
	Remarks         string    `json:"remarks"`
}

// RegisterRequest orders a sample for a new or existing patient.
type RegisterRequest struct {
	HospitalID       uuid.UUID   `json:"hospital_id"`
	PatientID        *uuid.UUID  `json:"patient_id,omitempty"`
	Patient          *Patient    `json:"patient,omitempty"`
	Priority         string      `json:"priority"`
	ProfileIDs       []uuid.UUID `json:"profile_ids"`
	InvestigationIDs []uuid.UUID `json:"investigation_ids"`
	Barcode          string      `json:"barcode"`
	Notes            string      `json:"notes"`
}

// SampleFilter narrows a sample list. Zero fields match everything.
type SampleFilter struct {
	Status     Status
	HospitalID *uuid.UUID
	NodalID    *uuid.UUID
	PatientID  *uuid.UUID
	Q          string
	Limit      int
	Offset     int

	// Scope limits the list to the caller's hospitals; nil reads all.
	Scope *account.Scope
}

// ReportLine is one investigation on a report.
type ReportLine struct {
	InvestigationID uuid.UUID `json:"investigation_id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Value           string    `json:"value"`
	Unit            string    `json:"unit"`
	Flag            string    `json:"flag"`
	Reference       string    `json:"reference"`
	Remarks         string    `json:"remarks"`
	Pending         bool      `json:"pending"`
}

type Report struct {
	Sample       *Sample      `json:"sample"`
	Patient      *Patient     `json:"patient"`
	HospitalName string       `json:"hospital_name"`
	Lines        []ReportLine `json:"lines"`
	Final        bool         `json:"final"`
	Events       []*Event     `json:"events"`
}
