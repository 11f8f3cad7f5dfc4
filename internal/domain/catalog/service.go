package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validate"
)

type Service struct {
	kits           KitRepository
	investigations InvestigationRepository
	profiles       ProfileRepository
	inTx           func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewService(kits KitRepository, investigations InvestigationRepository, profiles ProfileRepository) *Service {
	return &Service{kits: kits, investigations: investigations, profiles: profiles, inTx: db.InTx}
}

// codeFree reports a conflict when code already belongs to an entity other
// than self.
func codeFree(what, code string, self uuid.UUID, lookup func() (uuid.UUID, error)) error {
	id, err := lookup()
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	case err != nil:
		return err
	case id != self:
		return apperr.Conflict("%s code %s already exists", what, code)
	}
	return nil
}

// -- Kit --

func (s *Service) CreateKit(ctx context.Context, k *Kit) error {
	if err := s.checkKit(ctx, k, uuid.Nil); err != nil {
		return err
	}
	k.Active = true
	return s.kits.Create(ctx, k)
}

func (s *Service) GetKit(ctx context.Context, id uuid.UUID) (*Kit, error) {
	return s.kits.GetByID(ctx, id)
}

func (s *Service) UpdateKit(ctx context.Context, k *Kit) error {
	if _, err := s.kits.GetByID(ctx, k.ID); err != nil {
		return err
	}
	if err := s.checkKit(ctx, k, k.ID); err != nil {
		return err
	}
	return s.kits.Update(ctx, k)
}

func (s *Service) DeleteKit(ctx context.Context, id uuid.UUID) error {
	return s.kits.Delete(ctx, id)
}

func (s *Service) KitByCode(ctx context.Context, code string) (*Kit, error) {
	return s.kits.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListKits(ctx context.Context, q string, limit, offset int) ([]*Kit, int, error) {
	return s.kits.List(ctx, q, limit, offset)
}

func (s *Service) checkKit(ctx context.Context, k *Kit, self uuid.UUID) error {
	k.normalize()
	if err := k.validate().Err(); err != nil {
		return err
	}
	return codeFree("kit", k.Code, self, func() (uuid.UUID, error) {
		existing, err := s.kits.GetByCode(ctx, k.Code)
		if err != nil {
			return uuid.Nil, err
		}
		return existing.ID, nil
	})
}

// -- Investigation --

func (s *Service) CreateInvestigation(ctx context.Context, inv *Investigation) error {
	if err := s.checkInvestigation(ctx, inv, uuid.Nil); err != nil {
		return err
	}
	inv.Active = true
	return s.investigations.Create(ctx, inv)
}

func (s *Service) GetInvestigation(ctx context.Context, id uuid.UUID) (*Investigation, error) {
	return s.investigations.GetByID(ctx, id)
}

func (s *Service) UpdateInvestigation(ctx context.Context, inv *Investigation) error {
	if _, err := s.investigations.GetByID(ctx, inv.ID); err != nil {
		return err
	}
	if err := s.checkInvestigation(ctx, inv, inv.ID); err != nil {
		return err
	}
	return s.investigations.Update(ctx, inv)
}

func (s *Service) DeleteInvestigation(ctx context.Context, id uuid.UUID) error {
	return s.investigations.Delete(ctx, id)
}

func (s *Service) InvestigationByCode(ctx context.Context, code string) (*Investigation, error) {
	return s.investigations.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListInvestigations(ctx context.Context, q string, limit, offset int) ([]*Investigation, int, error) {
	return s.investigations.List(ctx, q, limit, offset)
}

func (s *Service) checkInvestigation(ctx context.Context, inv *Investigation, self uuid.UUID) error {
	inv.normalize()
	errs := inv.validate()
	if inv.KitID != nil {
		if _, err := s.kits.GetByID(ctx, *inv.KitID); errors.Is(err, apperr.ErrNotFound) {
			errs.Add("kit_id", "unknown kit")
		} else if err != nil {
			return err
		}
	}
	if err := errs.Err(); err != nil {
		return err
	}
	return codeFree("investigation", inv.Code, self, func() (uuid.UUID, error) {
		existing, err := s.investigations.GetByCode(ctx, inv.Code)
		if err != nil {
			return uuid.Nil, err
		}
		return existing.ID, nil
	})
}

// -- Profile --

func (s *Service) CreateProfile(ctx context.Context, p *Profile) error {
	if err := s.checkProfile(ctx, p, uuid.Nil); err != nil {
		return err
	}
	p.Active = true
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.profiles.Create(ctx, p)
	})
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, p *Profile) error {
	if _, err := s.profiles.GetByID(ctx, p.ID); err != nil {
		return err
	}
	if err := s.checkProfile(ctx, p, p.ID); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		return s.profiles.Update(ctx, p)
	})
}

func (s *Service) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	return s.profiles.Delete(ctx, id)
}

func (s *Service) ProfileByCode(ctx context.Context, code string) (*Profile, error) {
	return s.profiles.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) ListProfiles(ctx context.Context, q string, limit, offset int) ([]*Profile, int, error) {
	return s.profiles.List(ctx, q, limit, offset)
}

func (s *Service) checkProfile(ctx context.Context, p *Profile, self uuid.UUID) error {
	p.normalize()
	errs := p.validate()
	if len(p.InvestigationIDs) > 0 {
		found, err := s.investigations.GetMany(ctx, p.InvestigationIDs)
		if err != nil {
			return err
		}
		if missing := missingIDs(p.InvestigationIDs, investigationIDs(found)); len(missing) > 0 {
			errs.Add("investigation_ids", fmt.Sprintf("unknown investigation %s", missing[0]))
		}
	}
	if err := errs.Err(); err != nil {
		return err
	}
	return codeFree("profile", p.Code, self, func() (uuid.UUID, error) {
		existing, err := s.profiles.GetByCode(ctx, p.Code)
		if err != nil {
			return uuid.Nil, err
		}
		return existing.ID, nil
	})
}

// ExpandProfiles resolves an order into its investigations: the members of
// each profile in profile order, then the individually ordered ones, with
// duplicates removed. Unknown or inactive entries are validation errors.
func (s *Service) ExpandProfiles(ctx context.Context, profileIDs, investigationIDList []uuid.UUID) ([]*Investigation, error) {
	profileIDs = dedupe(profileIDs)
	errs := validate.Errors{}

	profiles, err := s.profiles.GetMany(ctx, profileIDs)
	if err != nil {
		return nil, err
	}
	byProfile := make(map[uuid.UUID]*Profile, len(profiles))
	for _, p := range profiles {
		byProfile[p.ID] = p
	}

	var ordered []uuid.UUID
	for _, id := range profileIDs {
		p, ok := byProfile[id]
		switch {
		case !ok:
			errs.Add("profile_ids", fmt.Sprintf("unknown profile %s", id))
		case !p.Active:
			errs.Add("profile_ids", fmt.Sprintf("profile %s is inactive", p.Code))
		default:
			ordered = append(ordered, p.InvestigationIDs...)
		}
	}
	ordered = dedupe(append(ordered, investigationIDList...))

	found, err := s.investigations.GetMany(ctx, ordered)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*Investigation, len(found))
	for _, inv := range found {
		byID[inv.ID] = inv
	}

	out := make([]*Investigation, 0, len(ordered))
	for _, id := range ordered {
		inv, ok := byID[id]
		switch {
		case !ok:
			errs.Add("investigation_ids", fmt.Sprintf("unknown investigation %s", id))
		case !inv.Active:
			errs.Add("investigation_ids", fmt.Sprintf("investigation %s is inactive", inv.Code))
		default:
			out = append(out, inv)
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Investigations returns the investigations for ids keyed by ID.
func (s *Service) Investigations(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Investigation, error) {
	found, err := s.investigations.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*Investigation, len(found))
	for _, inv := range found {
		out[inv.ID] = inv
	}
	return out, nil
}

func investigationIDs(invs []*Investigation) []uuid.UUID {
	ids := make([]uuid.UUID, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID
	}
	return ids
}

func missingIDs(want, have []uuid.UUID) []uuid.UUID {
	present := make(map[uuid.UUID]struct{}, len(have))
	for _, id := range have {
		present[id] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range want {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
