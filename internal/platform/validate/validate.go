// Package validate holds the field patterns shared by every master form and
// an error collector that maps field names to messages.
package validate

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	namePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 .,'()&/-]{1,199}$`)
	codePattern     = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,19}$`)
	phonePattern    = regexp.MustCompile(`^(\+91)?[6-9][0-9]{9}$`)
	pincodePattern  = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9._]{2,31}$`)
	barcodePattern  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{3,39}$`)
	decimalPattern  = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)
)

// Name accepts a person or facility name of 2 to 200 characters.
func Name(s string) bool { return namePattern.MatchString(s) }

// Code accepts an upper-case master code of 2 to 20 characters.
func Code(s string) bool { return codePattern.MatchString(s) }

// Phone accepts a 10 digit mobile number with an optional +91 prefix.
func Phone(s string) bool { return phonePattern.MatchString(s) }

// Pincode accepts a 6 digit postal code that does not start with 0.
func Pincode(s string) bool { return pincodePattern.MatchString(s) }

func Email(s string) bool { return len(s) <= 254 && emailPattern.MatchString(s) }

func Username(s string) bool { return usernamePattern.MatchString(s) }

func Barcode(s string) bool { return barcodePattern.MatchString(s) }

// Decimal accepts a plain decimal number such as "12", "-0.5" or "13.25".
func Decimal(s string) bool { return decimalPattern.MatchString(s) }

// Password requires at least 8 characters with a letter and a digit.
func Password(s string) bool {
	if len(s) < 8 || len(s) > 72 {
		return false
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// ParseDecimal returns the numeric value of s when it is a plain decimal.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !Decimal(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Errors maps field names to messages.
type Errors map[string]string

// Add records msg for field, keeping the first message per field.
func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

// Check adds msg for field when ok is false.
func (e Errors) Check(ok bool, field, msg string) {
	if !ok {
		e.Add(field, msg)
	}
}

// Required adds "is required" for field when value is blank.
func (e Errors) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		e.Add(field, "is required")
		return false
	}
	return true
}

// Optional runs check only when value is non-empty.
func (e Errors) Optional(field, value string, check func(string) bool, msg string) {
	if value != "" && !check(value) {
		e.Add(field, msg)
	}
}

// Err returns nil when no field failed, otherwise e itself as an error.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return &ValidationError{Fields: e}
}

// ValidationError is returned by services when input fails validation.
type ValidationError struct {
	Fields Errors `json:"fields"`
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns a single-field validation error.
func Field(field, msg string) error {
	return &ValidationError{Fields: Errors{field: msg}}
}
