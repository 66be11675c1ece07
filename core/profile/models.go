package profile

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/noteearly/noteearly/core"
)

// Roles
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleStudent    = "student"
)

var (
	AdminRoles = []string{RoleAdmin, RoleSuperAdmin}
	AllRoles   = []string{RoleSuperAdmin, RoleAdmin, RoleStudent}

	rolePriorities = map[string]int{
		RoleSuperAdmin: 30,
		RoleAdmin:      20,
		RoleStudent:    1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Super Admin", Value: RoleSuperAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Profile is an Admin, a Super Admin or a Student.
// Admins are identified by their Supabase user ID; Students belong to the Admin that created them.
type Profile struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Name         string    `json:"name"`
	Username     string    `json:"username,omitempty"`
	Email        string    `json:"email,omitempty"`
	AdminID      string    `json:"admin_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (p *Profile) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

func (p *Profile) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(pwd))
}

func (p Profile) IsSuperAdmin() bool { return p.Role == RoleSuperAdmin }
func (p Profile) IsAdmin() bool      { return p.Role == RoleAdmin || p.Role == RoleSuperAdmin }
func (p Profile) IsStudent() bool    { return p.Role == RoleStudent }

// Manages reports whether p may act on the given student.
func (p Profile) Manages(student Profile) bool {
	if !student.IsStudent() {
		return false
	}
	return p.IsSuperAdmin() || (p.IsAdmin() && student.AdminID == p.ID)
}

func (p Profile) Person() core.Person {
	return core.Person{ID: p.ID, Username: p.Username, Email: p.Email}
}

// Identity is an Admin identity verified by the external auth provider (Supabase).
type Identity struct {
	ID    string
	Email string
	Name  string
}

// IdentityVerifier verifies Admin session tokens.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// NewAdmin contains the information an Admin provides on first sign-in.
type NewAdmin struct {
	Name string `json:"name" validate:"omitempty,max=255"`
}

func (na *NewAdmin) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	return validate.Struct(na)
}

// UpdateAdmin defines what a Super Admin may change on an Admin.
type UpdateAdmin struct {
	Name     string `json:"name" validate:"omitempty,max=255"`
	Role     string `json:"role" validate:"omitempty,oneof=admin super_admin"`
	IsActive *bool  `json:"is_active"`
}

func (ua *UpdateAdmin) Validate(orig Profile, validate *validator.Validate) error {
	if name := core.CleanString(ua.Name); name != "" {
		ua.Name = name
	} else {
		ua.Name = orig.Name
	}
	if ua.Role == "" {
		ua.Role = orig.Role
	}
	return validate.Struct(ua)
}

// NewStudent contains information needed to create a new Student.
type NewStudent struct {
	Name            string `json:"name" validate:"required,max=255"`
	Username        string `json:"username" validate:"required,min=3,max=150,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (ns *NewStudent) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Username = core.CleanString(ns.Username, true /* lower */)
	ns.Email = core.CleanString(ns.Email, true /* lower */)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, ns.Username, ns.Email)
}

// UpdateStudent defines what information may be provided to modify an existing Student.
type UpdateStudent struct {
	Name     string `json:"name" validate:"omitempty,max=255"`
	Username string `json:"username" validate:"omitempty,min=3,max=150,alphanum_"`
	Email    string `json:"email" validate:"omitempty,email"`
	IsActive *bool  `json:"is_active"`
}

func (us *UpdateStudent) Validate(ctx context.Context, orig Profile, validate *validator.Validate, svc *Service) error {
	if name := core.CleanString(us.Name); name != "" {
		us.Name = name
	} else {
		us.Name = orig.Name
	}
	if uname := core.CleanString(us.Username, true /* lower */); uname != "" {
		us.Username = uname
	} else {
		us.Username = orig.Username
	}
	if email := core.CleanString(us.Email, true /* lower */); email != "" {
		us.Email = email
	} else {
		us.Email = orig.Email
	}

	if err := validate.Struct(us); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, us.Username, us.Email, orig)
}

// SetStudentPassword is used by an Admin to set a new password for one of their Students.
type SetStudentPassword struct {
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`

	student Profile
}

func (sp *SetStudentPassword) Validate(student Profile, validate *validator.Validate) error {
	sp.student = student
	return validate.Struct(sp)
}

type QueryFilter struct {
	Search      string `query:"search"`
	Roles       []string
	AdminID     string `query:"admin_id"`
	IsActive    *bool
	CreatedFrom time.Time
	CreatedTo   time.Time
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.AdminID == "" && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.AdminID = core.CleanString(qf.AdminID)
}

// OrderingFields are the fields profiles may be ordered by.
var OrderingFields = []string{"name", "username", "email", "role", "is_active", "created_at", "last_login"}

// GetFilter selects a single profile; the first non-empty field is used.
type GetFilter struct {
	ID       string
	Username string
	Email    string
}
