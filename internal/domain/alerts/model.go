// Package alerts turns sample status history into result and rejection
// feeds, and pushes new feed items to websocket subscribers.
package alerts

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindResults    Kind = "results"
	KindRejections Kind = "rejections"
)

var Kinds = []Kind{KindResults, KindRejections}

func ValidKind(k Kind) bool {
	return k == KindResults || k == KindRejections
}

// statuses lists the sample statuses that put an event on each feed.
var statuses = map[Kind][]string{
	KindResults:    {"resulted", "approved"},
	KindRejections: {"rejected"},
}

// Item is one feed entry: a sample reaching a status of interest.
type Item struct {
	SampleID    uuid.UUID `json:"sample_id"`
	Barcode     string    `json:"barcode"`
	PatientName string    `json:"patient_name"`
	HospitalID  uuid.UUID `json:"hospital_id"`
	Kind        Kind      `json:"kind"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

func (it Item) key() string {
	return it.SampleID.String() + ":" + string(it.Kind)
}

// Page is a slice of a feed plus the cursor for the next poll.
type Page struct {
	Items []Item    `json:"items"`
	Next  time.Time `json:"next"`
}
