package module

import (
	"context"

	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

var ErrNotFound = errors.New("module not found")

type (
	Repository interface {
		CreateModule(ctx context.Context, m Module) (Module, error)
		GetModule(ctx context.Context, id string) (Module, error)
		// QueryModules applies AND operation on available QueryFilter fields.
		QueryModules(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Module, error)
		UpdateModule(ctx context.Context, m Module) (Module, error)
		DeleteModule(ctx context.Context, id string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CanRead reports whether an Admin may see a Module. Student access goes through assignments.
func CanRead(actor profile.Profile, m Module) bool {
	return actor.IsSuperAdmin() || (actor.IsAdmin() && (m.IsCurated || m.AdminID == actor.ID))
}

// CanWrite reports whether actor may modify or delete a Module. Curated modules are read-only to Admins.
func CanWrite(actor profile.Profile, m Module) bool {
	return actor.IsSuperAdmin() || (actor.IsAdmin() && !m.IsCurated && m.AdminID == actor.ID)
}

func (svc *Service) Create(ctx context.Context, actor profile.Profile, nm NewModule) (Module, error) {
	if !actor.IsAdmin() {
		return Module{}, core.ErrForbidden
	}
	now := core.NowFunc().UTC()
	m := Module{
		AdminID:     actor.ID,
		Title:       nm.Title,
		Description: nm.Description,
		Level:       nm.Level,
		IsCurated:   nm.IsCurated && actor.IsSuperAdmin(),
		Paragraphs:  nm.Paragraphs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m, err := svc.repo.CreateModule(ctx, m)
	return m, errors.Wrap(err, "creating module")
}

func (svc *Service) GetByID(ctx context.Context, id string) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

// GetFor returns the Module `id` if actor may read it; ErrNotFound otherwise.
func (svc *Service) GetFor(ctx context.Context, actor profile.Profile, id string) (Module, error) {
	if actor.IsStudent() {
		mods, err := svc.repo.QueryModules(ctx, &QueryFilter{AssignedTo: actor.ID}, nil)
		if err != nil {
			return Module{}, errors.Wrap(err, "querying assigned modules")
		}
		for _, m := range mods {
			if m.ID == id {
				return m, nil
			}
		}
		return Module{}, ErrNotFound
	}

	m, err := svc.repo.GetModule(ctx, id)
	if err != nil {
		return Module{}, err
	}
	if !CanRead(actor, m) {
		return Module{}, ErrNotFound
	}
	return m, nil
}

// Query lists the Modules actor may see: own and curated ones for Admins, all for Super Admins,
// assigned ones for Students.
func (svc *Service) Query(ctx context.Context, actor profile.Profile, filter *QueryFilter, ordering []core.DBOrdering) ([]Module, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.VisibleTo, filter.AssignedTo = "", ""
	switch {
	case actor.IsStudent():
		filter.AssignedTo = actor.ID
	case !actor.IsSuperAdmin():
		filter.VisibleTo = actor.ID
	}
	return svc.repo.QueryModules(ctx, filter, core.CleanOrdering(ordering, OrderingFields...))
}

func (svc *Service) Update(ctx context.Context, actor profile.Profile, m Module, um UpdateModule) (Module, error) {
	if !CanWrite(actor, m) {
		return Module{}, core.ErrForbidden
	}
	m.Title = um.Title
	if um.Description != nil {
		m.Description = *um.Description
	}
	m.Level = um.Level
	if um.IsCurated != nil && actor.IsSuperAdmin() {
		m.IsCurated = *um.IsCurated
	}
	m.Paragraphs = um.Paragraphs
	m.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *Service) Delete(ctx context.Context, actor profile.Profile, m Module) error {
	if !CanWrite(actor, m) {
		return core.ErrForbidden
	}
	return svc.repo.DeleteModule(ctx, m.ID)
}
