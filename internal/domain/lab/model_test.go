package lab

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lims/lims/internal/platform/validate"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusRegistered, StatusCollected}: true,
		{StatusRegistered, StatusCancelled}: true,
		{StatusCollected, StatusReceived}:   true,
		{StatusCollected, StatusRejected}:   true,
		{StatusReceived, StatusRejected}:    true,
		{StatusReceived, StatusResulted}:    true,
		{StatusRejected, StatusCollected}:   true,
		{StatusResulted, StatusApproved}:    true,
		{StatusResulted, StatusReceived}:    true,
	}
	all := []Status{StatusRegistered, StatusCollected, StatusReceived, StatusRejected,
		StatusResulted, StatusApproved, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusApproved))
	assert.False(t, ValidStatus("lost"))
	assert.False(t, ValidStatus(""))
}

func TestNewBarcode(t *testing.T) {
	day := time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC)
	code, err := NewBarcode("cghs", day, bytes.NewReader([]byte{0xab, 0x01, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, "CGHS-240307-AB01FF", code)
	assert.True(t, validate.Barcode(code))
}

func TestNewBarcode_ShortEntropy(t *testing.T) {
	_, err := NewBarcode("CGHS", time.Now(), bytes.NewReader([]byte{1}))
	assert.Error(t, err)
}

func TestRandomBarcode_Format(t *testing.T) {
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	code, err := randomBarcode("AIIMS", day)
	require.NoError(t, err)
	assert.Regexp(t, `^AIIMS-241231-[0-9A-F]{6}$`, code)
}

func TestPatient_Validate(t *testing.T) {
	p := &Patient{Name: " Meera Nair ", Age: 34, Gender: "Female", Phone: "9876543210"}
	p.normalize()
	errs := p.validate()
	assert.Equal(t, "Meera Nair", p.Name)
	assert.Equal(t, "female", p.Gender)
	assert.Contains(t, errs, "hospital_id")
	assert.Len(t, errs, 1)

	blank := ""
	p.MRN = &blank
	p.normalize()
	assert.Nil(t, p.MRN)

	bad := &Patient{Name: "M", Age: 200, Gender: "x", Phone: "12"}
	errs = bad.validate()
	for _, f := range []string{"name", "age", "gender", "phone"} {
		assert.Contains(t, errs, f)
	}
	var verr *validate.ValidationError
	assert.True(t, errors.As(errs.Err(), &verr))
}
