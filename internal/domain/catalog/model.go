package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/validate"
)

// DateLayout is the format of calendar dates such as kit expiry.
const DateLayout = "2006-01-02"

// SampleTypes lists the specimen kinds an investigation can be run on.
var SampleTypes = []string{"blood", "serum", "plasma", "urine", "stool", "swab", "sputum", "csf", "other"}

func validSampleType(s string) bool {
	for _, t := range SampleTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Kit is a reagent kit used to run investigations.
type Kit struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Code         string    `json:"code"`
	Manufacturer string    `json:"manufacturer"`
	LotNumber    *string   `json:"lot_number,omitempty"`
	ExpiryDate   *string   `json:"expiry_date,omitempty"`
	TestsPerKit  int       `json:"tests_per_kit"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (k *Kit) normalize() {
	k.Name = strings.TrimSpace(k.Name)
	k.Code = strings.ToUpper(strings.TrimSpace(k.Code))
	k.Manufacturer = strings.TrimSpace(k.Manufacturer)
	k.LotNumber = trimOptional(k.LotNumber)
	k.ExpiryDate = trimOptional(k.ExpiryDate)
}

func (k *Kit) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("name", k.Name) {
		errs.Check(validate.Name(k.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	if errs.Required("code", k.Code) {
		errs.Check(validate.Code(k.Code), "code", "must be 2-20 upper-case letters, digits, - or _")
	}
	errs.Optional("manufacturer", k.Manufacturer, validate.Name, "must be a valid name")
	if k.ExpiryDate != nil {
		_, err := time.Parse(DateLayout, *k.ExpiryDate)
		errs.Check(err == nil, "expiry_date", "must be a date in YYYY-MM-DD format")
	}
	errs.Check(k.TestsPerKit >= 0, "tests_per_kit", "must not be negative")
	return errs
}

// Expiry returns the parsed expiry date, or nil when none is set.
func (k *Kit) Expiry() *time.Time {
	if k.ExpiryDate == nil {
		return nil
	}
	t, err := time.Parse(DateLayout, *k.ExpiryDate)
	if err != nil {
		return nil
	}
	return &t
}

// Investigation is a single orderable test with its reference range.
type Investigation struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Code          string     `json:"code"`
	SampleType    string     `json:"sample_type"`
	Unit          string     `json:"unit"`
	ReferenceLow  *float64   `json:"reference_low,omitempty"`
	ReferenceHigh *float64   `json:"reference_high,omitempty"`
	ReferenceText *string    `json:"reference_text,omitempty"`
	Method        *string    `json:"method,omitempty"`
	KitID         *uuid.UUID `json:"kit_id,omitempty"`
	Price         float64    `json:"price"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (inv *Investigation) normalize() {
	inv.Name = strings.TrimSpace(inv.Name)
	inv.Code = strings.ToUpper(strings.TrimSpace(inv.Code))
	inv.SampleType = strings.ToLower(strings.TrimSpace(inv.SampleType))
	inv.Unit = strings.TrimSpace(inv.Unit)
	inv.ReferenceText = trimOptional(inv.ReferenceText)
	inv.Method = trimOptional(inv.Method)
	if inv.KitID != nil && *inv.KitID == uuid.Nil {
		inv.KitID = nil
	}
}

func (inv *Investigation) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("name", inv.Name) {
		errs.Check(validate.Name(inv.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	if errs.Required("code", inv.Code) {
		errs.Check(validate.Code(inv.Code), "code", "must be 2-20 upper-case letters, digits, - or _")
	}
	if errs.Required("sample_type", inv.SampleType) {
		errs.Check(validSampleType(inv.SampleType), "sample_type", "must be one of "+strings.Join(SampleTypes, ", "))
	}
	errs.Check(len(inv.Unit) <= 50, "unit", "must be at most 50 characters")
	if inv.ReferenceLow != nil && inv.ReferenceHigh != nil {
		errs.Check(*inv.ReferenceLow <= *inv.ReferenceHigh, "reference_low", "must not exceed reference_high")
	}
	errs.Check(inv.Price >= 0, "price", "must not be negative")
	return errs
}

// Flag classifies a result value against the reference range: "L" below,
// "H" above, "N" inside. Non-numeric values and investigations without a
// numeric range get "".
func (inv *Investigation) Flag(value string) string {
	v, ok := validate.ParseDecimal(value)
	if !ok || (inv.ReferenceLow == nil && inv.ReferenceHigh == nil) {
		return ""
	}
	switch {
	case inv.ReferenceLow != nil && v < *inv.ReferenceLow:
		return "L"
	case inv.ReferenceHigh != nil && v > *inv.ReferenceHigh:
		return "H"
	}
	return "N"
}

// Profile is a named bundle of investigations ordered together.
type Profile struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	Code             string      `json:"code"`
	Description      string      `json:"description"`
	Price            float64     `json:"price"`
	InvestigationIDs []uuid.UUID `json:"investigation_ids"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func (p *Profile) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Description = strings.TrimSpace(p.Description)
	p.InvestigationIDs = dedupe(p.InvestigationIDs)
}

func (p *Profile) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("name", p.Name) {
		errs.Check(validate.Name(p.Name), "name", "must be 2-200 letters, digits or punctuation")
	}
	if errs.Required("code", p.Code) {
		errs.Check(validate.Code(p.Code), "code", "must be 2-20 upper-case letters, digits, - or _")
	}
	errs.Check(p.Price >= 0, "price", "must not be negative")
	errs.Check(len(p.InvestigationIDs) > 0, "investigation_ids", "at least one investigation is required")
	return errs
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// dedupe drops nil and repeated IDs, keeping first-seen order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
