package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/internal/platform/validate"
)

// ErrInvalidCredentials is returned for an unknown user, an inactive user or
// a wrong password. Callers cannot tell which.
var ErrInvalidCredentials = errors.New("invalid username or password")

// TokenIssuer signs login tokens.
type TokenIssuer interface {
	Issue(userID, username, role, tenant string) (string, time.Time, error)
}

type Service struct {
	users    UserRepository
	mappings MappingRepository
	refs     RefLookup
	issuer   TokenIssuer

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users UserRepository, mappings MappingRepository, refs RefLookup, issuer TokenIssuer) *Service {
	return &Service{users: users, mappings: mappings, refs: refs, issuer: issuer}
}

// -- Authentication --

// Login verifies the credentials and issues a token bound to the tenant on
// ctx.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, normalizeUsername(username))
	if errors.Is(err, apperr.ErrNotFound) {
		// Spend the same bcrypt time as a real check.
		_, _ = auth.CheckPassword(s.dummy(), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok || !u.Active {
		return nil, ErrInvalidCredentials
	}

	shell, err := ShellFor(u.Role)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.issuer.Issue(u.ID.String(), u.Username, u.Role, db.TenantFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u, Shell: shell}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword(uuid.NewString())
	})
	return s.dummyHash
}

// Me returns the caller's account, shell and mappings.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	shell, err := ShellFor(u.Role)
	if err != nil {
		return nil, err
	}
	mappings, err := s.mappings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: u, Shell: shell, Mappings: mappings, Tenant: db.TenantFromContext(ctx)}, nil
}

// ChangePassword replaces the caller's password after checking the current
// one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return validate.Field("current_password", "is incorrect")
	}
	return s.setPassword(ctx, userID, next)
}

// ResetPassword sets a user's password without the current one.
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.setPassword(ctx, userID, password)
}

func (s *Service) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if !validate.Password(password) {
		return validate.Field("password", "must be 8-72 characters with a letter and a digit")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// -- Users --

func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	u.normalize()
	errs := u.validate()
	if !validate.Password(password) {
		errs.Add("password", "must be 8-72 characters with a letter and a digit")
	}
	if err := errs.Err(); err != nil {
		return err
	}

	if _, err := s.users.GetByUsername(ctx, u.Username); err == nil {
		return apperr.Conflict("username %s already exists", u.Username)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UserByUsername looks a user up case-insensitively.
func (s *Service) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, normalizeUsername(username))
}

// UpdateUser changes profile fields and role. The username is immutable.
func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	existing, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Username = existing.Username
	u.normalize()
	if err := u.validate().Err(); err != nil {
		return err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return err
	}
	u.PasswordHash = ""
	return nil
}

// DeactivateUser disables login for the account. The row is kept because
// samples and events reference it.
func (s *Service) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !u.Active {
		return nil
	}
	u.Active = false
	return s.users.Update(ctx, u)
}

func (s *Service) ListUsers(ctx context.Context, q, role string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, q, role, limit, offset)
}

// -- Mappings --

func (s *Service) CreateMapping(ctx context.Context, m *Mapping) error {
	if err := s.checkMapping(ctx, m); err != nil {
		return err
	}
	m.Active = true
	return s.mappings.Create(ctx, m)
}

func (s *Service) GetMapping(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return s.mappings.GetByID(ctx, id)
}

func (s *Service) UpdateMapping(ctx context.Context, m *Mapping) error {
	if _, err := s.mappings.GetByID(ctx, m.ID); err != nil {
		return err
	}
	if err := s.checkMapping(ctx, m); err != nil {
		return err
	}
	return s.mappings.Update(ctx, m)
}

func (s *Service) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	return s.mappings.Delete(ctx, id)
}

func (s *Service) ListMappings(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]*Mapping, int, error) {
	return s.mappings.List(ctx, userID, limit, offset)
}

func (s *Service) checkMapping(ctx context.Context, m *Mapping) error {
	m.normalize()
	if m.UserID == uuid.Nil {
		return validate.Field("user_id", "is required")
	}
	u, err := s.users.GetByID(ctx, m.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return validate.Field("user_id", "unknown user")
	}
	if err != nil {
		return err
	}

	switch {
	case m.HospitalID == nil && m.NodalID == nil:
		return validate.Field("hospital_id", "either hospital_id or nodal_id is required")
	case m.HospitalID != nil && m.NodalID != nil:
		return validate.Field("hospital_id", "only one of hospital_id or nodal_id may be set")
	}

	switch target := mappingTarget(u.Role); {
	case target == "":
		return validate.Field("user_id", "admin accounts are not mapped")
	case target == "hospital" && m.HospitalID == nil:
		return validate.Field("hospital_id", u.Role+" accounts map to a hospital")
	case target == "nodal" && m.NodalID == nil:
		return validate.Field("nodal_id", u.Role+" accounts map to a nodal center")
	}

	if m.HospitalID != nil {
		ok, err := s.refs.HospitalExists(ctx, *m.HospitalID)
		if err != nil {
			return err
		}
		if !ok {
			return validate.Field("hospital_id", "unknown hospital")
		}
	}
	if m.NodalID != nil {
		ok, err := s.refs.NodalExists(ctx, *m.NodalID)
		if err != nil {
			return err
		}
		if !ok {
			return validate.Field("nodal_id", "unknown nodal center")
		}
	}
	return nil
}

// HospitalScope returns the hospitals whose samples userID may see.
func (s *Service) HospitalScope(ctx context.Context, userID uuid.UUID, role string) (Scope, error) {
	if role == auth.RoleAdmin {
		return Scope{All: true}, nil
	}
	ids, err := s.mappings.ScopeHospitals(ctx, userID)
	if err != nil {
		return Scope{}, err
	}
	return Scope{HospitalIDs: ids}, nil
}

func normalizeUsername(s string) string {
	u := User{Username: s}
	u.normalize()
	return u.Username
}
