package profile

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
)

var (
	// errors
	ErrNotFound          = errors.New("profile not found")
	ErrEmailExists       = errors.New("a profile with this email already exists")
	ErrUsernameExists    = errors.New("a profile with this username already exists")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrStudentLimit      = core.NewAppError("student limit reached for your plan", http.StatusPaymentRequired)
	errNotAnAdminAccount = core.NewAppError("this account is not an admin account", http.StatusForbidden)
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when another profile (not in excluded) uses them.
		CheckUniqueness(ctx context.Context, username, email string, excluded ...Profile) error
		CreateProfile(ctx context.Context, p Profile) (Profile, error)
		GetProfile(ctx context.Context, filter GetFilter) (Profile, error)
		// QueryProfiles applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Profile.Name, Profile.Username or Profile.Email.
		QueryProfiles(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error)
		CountStudents(ctx context.Context, adminID string) (int, error)
		UpdateProfile(ctx context.Context, p Profile) (Profile, error)
		DeleteProfilesByID(ctx context.Context, ids ...string) (int, error)
	}

	// StudentLimiter returns how many students an Admin may manage; a negative limit means unlimited.
	StudentLimiter interface {
		StudentLimit(ctx context.Context, adminID string) (int, error)
	}

	Service struct {
		repo    Repository
		limiter StudentLimiter
	}
)

func NewService(repo Repository, limiter StudentLimiter) *Service {
	return &Service{repo: repo, limiter: limiter}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclProfiles ...Profile) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, exclProfiles...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

// RegisterAdmin creates the Admin profile of a verified identity.
// The existing profile is returned when there is one; created reports whether a profile was created.
func (svc *Service) RegisterAdmin(ctx context.Context, ident Identity, na NewAdmin) (p Profile, created bool, err error) {
	if ident.ID == "" {
		return Profile{}, false, ErrInvalidIdentity
	}
	p, err = svc.repo.GetProfile(ctx, GetFilter{ID: ident.ID})
	if err == nil {
		if !p.IsAdmin() {
			return Profile{}, false, errNotAnAdminAccount
		}
		return p, false, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Profile{}, false, errors.Wrap(err, "finding profile by ID")
	}

	email := core.CleanString(ident.Email, true /* lower */)
	if err = svc.CheckUniqueness(ctx, "", email); err != nil {
		return Profile{}, false, err
	}

	name := na.Name
	if name == "" {
		name = core.CleanString(ident.Name)
	}
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	now := core.NowFunc().UTC()
	p, err = svc.repo.CreateProfile(ctx, Profile{
		ID:        ident.ID,
		Role:      RoleAdmin,
		Name:      name,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Profile{}, false, errors.Wrap(err, "creating admin")
	}
	return p, true, nil
}

// CreateStudent creates a Student managed by the given Admin.
func (svc *Service) CreateStudent(ctx context.Context, admin Profile, ns NewStudent) (Profile, error) {
	if !admin.IsAdmin() {
		return Profile{}, core.ErrForbidden
	}
	if !admin.IsSuperAdmin() && svc.limiter != nil {
		limit, err := svc.limiter.StudentLimit(ctx, admin.ID)
		if err != nil {
			return Profile{}, errors.Wrap(err, "getting student limit")
		}
		if limit >= 0 {
			count, err := svc.repo.CountStudents(ctx, admin.ID)
			if err != nil {
				return Profile{}, errors.Wrap(err, "counting students")
			}
			if count >= limit {
				return Profile{}, ErrStudentLimit
			}
		}
	}

	now := core.NowFunc().UTC()
	student := Profile{
		Role:      RoleStudent,
		Name:      ns.Name,
		Username:  ns.Username,
		Email:     ns.Email,
		AdminID:   admin.ID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := student.SetPassword(ns.Password); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}
	student, err := svc.repo.CreateProfile(ctx, student)
	return student, errors.Wrap(err, "creating student")
}

func (svc *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return svc.repo.GetProfile(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (Profile, error) {
	return svc.repo.GetProfile(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (Profile, error) {
	return svc.repo.GetProfile(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// GetStudentFor returns the Student `id` if `actor` manages them; ErrNotFound otherwise.
func (svc *Service) GetStudentFor(ctx context.Context, actor Profile, id string) (Profile, error) {
	student, err := svc.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if !actor.Manages(student) {
		return Profile{}, ErrNotFound
	}
	return student, nil
}

// QueryStudents lists the Students managed by `actor` (all Students for a Super Admin).
func (svc *Service) QueryStudents(ctx context.Context, actor Profile, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Roles = []string{RoleStudent}
	if !actor.IsSuperAdmin() {
		filter.AdminID = actor.ID
	}
	return svc.repo.QueryProfiles(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) QueryAdmins(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Roles = AdminRoles
	filter.AdminID = ""
	return svc.repo.QueryProfiles(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) UpdateStudent(ctx context.Context, student Profile, us UpdateStudent) (Profile, error) {
	student.Name = us.Name
	student.Username = us.Username
	student.Email = us.Email
	if us.IsActive != nil {
		student.IsActive = *us.IsActive
	}
	student.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateProfile(ctx, student)
}

func (svc *Service) SetStudentPassword(ctx context.Context, student Profile, sp SetStudentPassword) (Profile, error) {
	if err := student.SetPassword(sp.Password); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}
	student.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateProfile(ctx, student)
}

// UpdateAdmin applies a Super Admin's changes to an Admin. Super Admins cannot demote or deactivate themselves.
func (svc *Service) UpdateAdmin(ctx context.Context, actor, admin Profile, ua UpdateAdmin) (Profile, error) {
	if !actor.IsSuperAdmin() || !admin.IsAdmin() {
		return Profile{}, core.ErrForbidden
	}
	if actor.ID == admin.ID && (ua.Role != RoleSuperAdmin || (ua.IsActive != nil && !*ua.IsActive)) {
		return Profile{}, core.ErrForbidden
	}
	admin.Name = ua.Name
	admin.Role = ua.Role
	if ua.IsActive != nil {
		admin.IsActive = *ua.IsActive
	}
	admin.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateProfile(ctx, admin)
}

func (svc *Service) SetLastLogin(ctx context.Context, p Profile) (Profile, error) {
	p.LastLogin = core.NowFunc().UTC()
	return svc.repo.UpdateProfile(ctx, p)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := svc.repo.DeleteProfilesByID(ctx, ids...)
	return err
}
