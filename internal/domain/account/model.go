package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/platform/validate"
)

// User is a login account. Each account holds exactly one role.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) normalize() {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Role = strings.ToLower(strings.TrimSpace(u.Role))
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Phone = strings.TrimSpace(u.Phone)
}

func (u *User) validate() validate.Errors {
	errs := validate.Errors{}
	if errs.Required("username", u.Username) {
		errs.Check(validate.Username(u.Username), "username", "must be 3-32 lower-case letters, digits, . or _ starting with a letter")
	}
	if errs.Required("role", u.Role) {
		errs.Check(auth.ValidRole(u.Role), "role", "must be one of "+strings.Join(auth.Roles, ", "))
	}
	errs.Optional("display_name", u.DisplayName, validate.Name, "must be a valid name")
	errs.Optional("email", u.Email, validate.Email, "must be a valid email address")
	errs.Optional("phone", u.Phone, validate.Phone, "must be a 10 digit mobile number")
	return errs
}

// Section is one screen of a role's shell.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Shell is the set of screens a role may use, with the one it lands on.
type Shell struct {
	Role     string    `json:"role"`
	Home     string    `json:"home"`
	Sections []Section `json:"sections"`
}

var shells = map[string]Shell{
	auth.RoleAdmin: {
		Home: "/admin/hospitals",
		Sections: []Section{
			{"hospitals", "Hospital Master", "/admin/hospitals"},
			{"nodals", "Nodal Master", "/admin/nodals"},
			{"kits", "Kit Master", "/admin/kits"},
			{"investigations", "Investigation Master", "/admin/investigations"},
			{"profiles", "Profile Master", "/admin/profiles"},
			{"technicians", "Technician Master", "/admin/technicians"},
			{"users", "User Master", "/admin/users"},
			{"user-mappings", "User Mapping", "/admin/user-mappings"},
			{"samples", "Samples", "/admin/samples"},
			{"notifications", "Notifications", "/admin/notifications"},
		},
	},
	auth.RolePhlebotomist: {
		Home: "/phlebotomist/collection",
		Sections: []Section{
			{"collection", "Sample Collection", "/phlebotomist/collection"},
			{"recollection", "Recollection", "/phlebotomist/recollection"},
			{"rejections", "Rejected Samples", "/phlebotomist/rejections"},
		},
	},
	auth.RoleReception: {
		Home: "/reception/registration",
		Sections: []Section{
			{"registration", "Patient Registration", "/reception/registration"},
			{"samples", "Samples", "/reception/samples"},
			{"reports", "Reports", "/reception/reports"},
			{"results", "Result Alerts", "/reception/results"},
		},
	},
	auth.RoleDoctor: {
		Home: "/doctor/approvals",
		Sections: []Section{
			{"approvals", "Pending Approval", "/doctor/approvals"},
			{"reports", "Reports", "/doctor/reports"},
			{"results", "Result Alerts", "/doctor/results"},
		},
	},
	auth.RoleTechnician: {
		Home: "/technician/receiving",
		Sections: []Section{
			{"receiving", "Sample Receiving", "/technician/receiving"},
			{"result-entry", "Result Entry", "/technician/result-entry"},
			{"rejections", "Rejected Samples", "/technician/rejections"},
		},
	},
}

// ShellFor returns the shell for role.
func ShellFor(role string) (Shell, error) {
	s, ok := shells[role]
	if !ok {
		return Shell{}, fmt.Errorf("no shell for role %q", role)
	}
	s.Role = role
	s.Sections = append([]Section(nil), s.Sections...)
	return s, nil
}

// Mapping binds a user to one hospital or one nodal center.
type Mapping struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	HospitalID *uuid.UUID `json:"hospital_id,omitempty"`
	NodalID    *uuid.UUID `json:"nodal_id,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (m *Mapping) normalize() {
	if m.HospitalID != nil && *m.HospitalID == uuid.Nil {
		m.HospitalID = nil
	}
	if m.NodalID != nil && *m.NodalID == uuid.Nil {
		m.NodalID = nil
	}
}

// mappingTarget reports whether role maps to hospitals or to nodal centers.
func mappingTarget(role string) string {
	switch role {
	case auth.RoleTechnician:
		return "nodal"
	case auth.RoleAdmin:
		return ""
	}
	return "hospital"
}

// Scope lists the hospitals whose samples a user may see. All is set for
// admins.
type Scope struct {
	All         bool        `json:"all"`
	HospitalIDs []uuid.UUID `json:"hospital_ids"`
}

// Allows reports whether hospitalID is within the scope.
func (s Scope) Allows(hospitalID uuid.UUID) bool {
	if s.All {
		return true
	}
	for _, id := range s.HospitalIDs {
		if id == hospitalID {
			return true
		}
	}
	return false
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
	Shell     Shell     `json:"shell"`
}

// Profile is what GET /me returns.
type Profile struct {
	User     *User      `json:"user"`
	Shell    Shell      `json:"shell"`
	Mappings []*Mapping `json:"mappings"`
	Tenant   string     `json:"tenant"`
}
