package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/facility"
	"github.com/lims/lims/internal/domain/staff"
	"github.com/lims/lims/internal/platform/apperr"
)

type Facilities interface {
	NodalByCode(ctx context.Context, code string) (*facility.Nodal, error)
	CreateNodal(ctx context.Context, n *facility.Nodal) error
	HospitalByCode(ctx context.Context, code string) (*facility.Hospital, error)
	CreateHospital(ctx context.Context, h *facility.Hospital) error
}

type Catalog interface {
	KitByCode(ctx context.Context, code string) (*catalog.Kit, error)
	CreateKit(ctx context.Context, k *catalog.Kit) error
	InvestigationByCode(ctx context.Context, code string) (*catalog.Investigation, error)
	CreateInvestigation(ctx context.Context, inv *catalog.Investigation) error
	ProfileByCode(ctx context.Context, code string) (*catalog.Profile, error)
	CreateProfile(ctx context.Context, p *catalog.Profile) error
}

type Accounts interface {
	UserByUsername(ctx context.Context, username string) (*account.User, error)
	CreateUser(ctx context.Context, u *account.User, password string) error
	CreateMapping(ctx context.Context, m *account.Mapping) error
}

type Staff interface {
	TechnicianByCode(ctx context.Context, code string) (*staff.Technician, error)
	CreateTechnician(ctx context.Context, t *staff.Technician) error
}

// Report counts created and skipped entries per section.
type Report struct {
	Created map[string]int `json:"created"`
	Skipped map[string]int `json:"skipped"`
}

func (r *Report) count(section string, created bool) {
	if created {
		r.Created[section]++
	} else {
		r.Skipped[section]++
	}
}

type Seeder struct {
	facilities Facilities
	catalog    Catalog
	accounts   Accounts
	staff      Staff
	logger     zerolog.Logger
}

func NewSeeder(facilities Facilities, cat Catalog, accounts Accounts, st Staff, logger zerolog.Logger) *Seeder {
	return &Seeder{
		facilities: facilities,
		catalog:    cat,
		accounts:   accounts,
		staff:      st,
		logger:     logger.With().Str("component", "seed").Logger(),
	}
}

// Apply creates the entries of f in dependency order. Entries whose code
// or username already exists are left untouched. Apply stops at the first
// error; run it inside a transaction to get all or nothing.
func (s *Seeder) Apply(ctx context.Context, f *File) (*Report, error) {
	r := &Report{Created: map[string]int{}, Skipped: map[string]int{}}
	steps := []func(context.Context, *File, *Report) error{
		s.nodals, s.hospitals, s.kits, s.investigations, s.profiles, s.users, s.technicians,
	}
	for _, step := range steps {
		if err := step(ctx, f, r); err != nil {
			return r, err
		}
	}
	s.logger.Info().Interface("created", r.Created).Interface("skipped", r.Skipped).Msg("seed applied")
	return r, nil
}

// exists reports whether a lookup found an entry, treating not found as
// false and passing other errors through.
func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrNotFound):
		return false, nil
	}
	return false, err
}

func (s *Seeder) nodals(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Nodals {
		found, err := exists(lookupErr(s.facilities.NodalByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("nodal %s: %w", e.Code, err)
		}
		if !found {
			if err := s.facilities.CreateNodal(ctx, &facility.Nodal{Site: e.site()}); err != nil {
				return fmt.Errorf("nodal %s: %w", e.Code, err)
			}
		}
		r.count("nodals", !found)
	}
	return nil
}

func (s *Seeder) hospitals(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Hospitals {
		found, err := exists(lookupErr(s.facilities.HospitalByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("hospital %s: %w", e.Code, err)
		}
		if !found {
			nodalID, err := s.nodalID(ctx, e.Nodal)
			if err != nil {
				return fmt.Errorf("hospital %s: %w", e.Code, err)
			}
			if err := s.facilities.CreateHospital(ctx, &facility.Hospital{NodalID: nodalID, Site: e.site()}); err != nil {
				return fmt.Errorf("hospital %s: %w", e.Code, err)
			}
		}
		r.count("hospitals", !found)
	}
	return nil
}

func (s *Seeder) kits(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Kits {
		found, err := exists(lookupErr(s.catalog.KitByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("kit %s: %w", e.Code, err)
		}
		if !found {
			k := &catalog.Kit{
				Name:         e.Name,
				Code:         e.Code,
				Manufacturer: e.Manufacturer,
				LotNumber:    e.LotNumber,
				ExpiryDate:   e.ExpiryDate,
				TestsPerKit:  e.TestsPerKit,
			}
			if err := s.catalog.CreateKit(ctx, k); err != nil {
				return fmt.Errorf("kit %s: %w", e.Code, err)
			}
		}
		r.count("kits", !found)
	}
	return nil
}

func (s *Seeder) investigations(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Investigations {
		found, err := exists(lookupErr(s.catalog.InvestigationByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("investigation %s: %w", e.Code, err)
		}
		if !found {
			inv := &catalog.Investigation{
				Name:          e.Name,
				Code:          e.Code,
				SampleType:    e.SampleType,
				Unit:          e.Unit,
				ReferenceLow:  e.ReferenceLow,
				ReferenceHigh: e.ReferenceHigh,
				ReferenceText: e.ReferenceText,
				Method:        e.Method,
				Price:         e.Price,
			}
			if strings.TrimSpace(e.Kit) != "" {
				k, err := s.catalog.KitByCode(ctx, e.Kit)
				if err != nil {
					return fmt.Errorf("investigation %s: kit %s: %w", e.Code, e.Kit, err)
				}
				inv.KitID = &k.ID
			}
			if err := s.catalog.CreateInvestigation(ctx, inv); err != nil {
				return fmt.Errorf("investigation %s: %w", e.Code, err)
			}
		}
		r.count("investigations", !found)
	}
	return nil
}

func (s *Seeder) profiles(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Profiles {
		found, err := exists(lookupErr(s.catalog.ProfileByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("profile %s: %w", e.Code, err)
		}
		if !found {
			p := &catalog.Profile{Name: e.Name, Code: e.Code, Description: e.Description, Price: e.Price}
			for _, code := range e.Investigations {
				inv, err := s.catalog.InvestigationByCode(ctx, code)
				if err != nil {
					return fmt.Errorf("profile %s: investigation %s: %w", e.Code, code, err)
				}
				p.InvestigationIDs = append(p.InvestigationIDs, inv.ID)
			}
			if err := s.catalog.CreateProfile(ctx, p); err != nil {
				return fmt.Errorf("profile %s: %w", e.Code, err)
			}
		}
		r.count("profiles", !found)
	}
	return nil
}

// users creates missing accounts with their mappings. Existing accounts keep
// their password and mappings.
func (s *Seeder) users(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Users {
		found, err := exists(lookupErr(s.accounts.UserByUsername(ctx, e.Username)))
		if err != nil {
			return fmt.Errorf("user %s: %w", e.Username, err)
		}
		if !found {
			if err := s.createUser(ctx, e); err != nil {
				return fmt.Errorf("user %s: %w", e.Username, err)
			}
		}
		r.count("users", !found)
	}
	return nil
}

func (s *Seeder) createUser(ctx context.Context, e User) error {
	var mappings []*account.Mapping
	for _, code := range e.Hospitals {
		h, err := s.facilities.HospitalByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("hospital %s: %w", code, err)
		}
		mappings = append(mappings, &account.Mapping{HospitalID: &h.ID})
	}
	for _, code := range e.Nodals {
		id, err := s.nodalID(ctx, code)
		if err != nil {
			return err
		}
		mappings = append(mappings, &account.Mapping{NodalID: &id})
	}

	u := &account.User{
		Username:    e.Username,
		Role:        e.Role,
		DisplayName: e.DisplayName,
		Email:       e.Email,
		Phone:       e.Phone,
	}
	if err := s.accounts.CreateUser(ctx, u, e.Password); err != nil {
		return err
	}
	for _, m := range mappings {
		m.UserID = u.ID
		if err := s.accounts.CreateMapping(ctx, m); err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
	}
	return nil
}

func (s *Seeder) technicians(ctx context.Context, f *File, r *Report) error {
	for _, e := range f.Technicians {
		found, err := exists(lookupErr(s.staff.TechnicianByCode(ctx, e.Code)))
		if err != nil {
			return fmt.Errorf("technician %s: %w", e.Code, err)
		}
		if !found {
			nodalID, err := s.nodalID(ctx, e.Nodal)
			if err != nil {
				return fmt.Errorf("technician %s: %w", e.Code, err)
			}
			t := &staff.Technician{
				NodalID:       nodalID,
				Name:          e.Name,
				Code:          e.Code,
				Qualification: e.Qualification,
				Phone:         e.Phone,
				Email:         e.Email,
			}
			if e.Username != "" {
				u, err := s.accounts.UserByUsername(ctx, e.Username)
				if err != nil {
					return fmt.Errorf("technician %s: user %s: %w", e.Code, e.Username, err)
				}
				t.UserID = &u.ID
			}
			if err := s.staff.CreateTechnician(ctx, t); err != nil {
				return fmt.Errorf("technician %s: %w", e.Code, err)
			}
		}
		r.count("technicians", !found)
	}
	return nil
}

func (s *Seeder) nodalID(ctx context.Context, code string) (uuid.UUID, error) {
	n, err := s.facilities.NodalByCode(ctx, code)
	if err != nil {
		return uuid.Nil, fmt.Errorf("nodal %s: %w", code, err)
	}
	return n.ID, nil
}

func (e Site) site() facility.Site {
	return facility.Site{
		Name:          e.Name,
		Code:          e.Code,
		Address:       e.Address,
		City:          e.City,
		State:         e.State,
		Pincode:       e.Pincode,
		ContactPerson: e.ContactPerson,
		Phone:         e.Phone,
		Email:         e.Email,
	}
}

func lookupErr[T any](_ T, err error) error { return err }
