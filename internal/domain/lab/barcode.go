package lab

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"time"
)

// NewBarcode returns <HOSPCODE>-<YYMMDD>-<6 hex> using entropy from r.
func NewBarcode(hospitalCode string, day time.Time, r io.Reader) (string, error) {
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hospitalCode) + "-" + day.Format("060102") + "-" + strings.ToUpper(hex.EncodeToString(b[:])), nil
}

func randomBarcode(hospitalCode string, day time.Time) (string, error) {
	return NewBarcode(hospitalCode, day, rand.Reader)
}
