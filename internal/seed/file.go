// Package seed loads reference masters and bootstrap accounts from a YAML
// document. Entries refer to each other by code, and users by username.
package seed

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the root of a seed document.
type File struct {
	Nodals         []Site          `yaml:"nodals"`
	Hospitals      []Hospital      `yaml:"hospitals"`
	Kits           []Kit           `yaml:"kits"`
	Investigations []Investigation `yaml:"investigations"`
	Profiles       []Profile       `yaml:"profiles"`
	Users          []User          `yaml:"users"`
	Technicians    []Technician    `yaml:"technicians"`
}

type Site struct {
	Name          string `yaml:"name"`
	Code          string `yaml:"code"`
	Address       string `yaml:"address"`
	City          string `yaml:"city"`
	State         string `yaml:"state"`
	Pincode       string `yaml:"pincode"`
	ContactPerson string `yaml:"contact_person"`
	Phone         string `yaml:"phone"`
	Email         string `yaml:"email"`
}

type Hospital struct {
	Site  `yaml:",inline"`
	Nodal string `yaml:"nodal"`
}

type Kit struct {
	Name         string  `yaml:"name"`
	Code         string  `yaml:"code"`
	Manufacturer string  `yaml:"manufacturer"`
	LotNumber    *string `yaml:"lot_number"`
	ExpiryDate   *string `yaml:"expiry_date"`
	TestsPerKit  int     `yaml:"tests_per_kit"`
}

type Investigation struct {
	Name          string   `yaml:"name"`
	Code          string   `yaml:"code"`
	SampleType    string   `yaml:"sample_type"`
	Unit          string   `yaml:"unit"`
	ReferenceLow  *float64 `yaml:"reference_low"`
	ReferenceHigh *float64 `yaml:"reference_high"`
	ReferenceText *string  `yaml:"reference_text"`
	Method        *string  `yaml:"method"`
	Kit           string   `yaml:"kit"`
	Price         float64  `yaml:"price"`
}

type Profile struct {
	Name           string   `yaml:"name"`
	Code           string   `yaml:"code"`
	Description    string   `yaml:"description"`
	Price          float64  `yaml:"price"`
	Investigations []string `yaml:"investigations"`
}

// User is a login account. Hospitals and Nodals list the codes the user is
// mapped to.
type User struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Role        string   `yaml:"role"`
	DisplayName string   `yaml:"display_name"`
	Email       string   `yaml:"email"`
	Phone       string   `yaml:"phone"`
	Hospitals   []string `yaml:"hospitals"`
	Nodals      []string `yaml:"nodals"`
}

type Technician struct {
	Name          string `yaml:"name"`
	Code          string `yaml:"code"`
	Nodal         string `yaml:"nodal"`
	Qualification string `yaml:"qualification"`
	Phone         string `yaml:"phone"`
	Email         string `yaml:"email"`
	Username      string `yaml:"username"`
}

// Parse decodes a seed document. Unknown keys are rejected so typos do not
// silently drop data.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("seed: document is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	return &f, nil
}

// Load reads and parses the seed document at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
