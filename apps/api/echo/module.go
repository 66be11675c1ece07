package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/progress"
)

type moduleApi struct {
	deps ServerDeps
}

func registerModuleAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := moduleApi{deps: deps}

	mg := g.Group("/modules", auth)
	mg.GET("", api.query)
	mg.POST("", api.create, adminOnly)

	// detail endpoints
	dg := mg.Group("/:id", api.moduleMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminOnly)
	dg.DELETE("", api.destroy, adminOnly)
	dg.POST("/assignments", api.assign, adminOnly)
	dg.DELETE("/assignments", api.unassign, adminOnly)

	registerModuleProgressAPI(dg, deps)
}

// Handlers

func (api *moduleApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := new(module.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []module.Module{})
	}
	filter.Curated = queryBool(ctx, "curated")
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	mods, err := api.deps.ModuleSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying modules")
	}
	if mods == nil {
		mods = []module.Module{}
	}
	return ctx.JSON(http.StatusOK, mods)
}

func (api *moduleApi) create(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data module.NewModule
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	m, err := api.deps.ModuleSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *moduleApi) retrieve(ctx echo.Context) error {
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *moduleApi) update(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	var data module.UpdateModule
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateModule")
	}
	if err = data.Validate(m, api.deps.Validate); err != nil {
		return err
	}

	m, err = api.deps.ModuleSvc.Update(ctx.Request().Context(), actor, m, data)
	if err != nil {
		return errors.Wrap(err, "updating module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *moduleApi) destroy(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.ModuleSvc.Delete(ctx.Request().Context(), actor, m); err != nil {
		return errors.Wrap(err, "deleting module")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *moduleApi) assign(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	var data progress.Assignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Assignment")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	created, err := api.deps.ProgressSvc.Assign(ctx.Request().Context(), actor, m, data)
	if err != nil {
		return errors.Wrap(err, "assigning module")
	}
	if created == nil {
		created = []progress.Progress{}
	}
	return ctx.JSON(http.StatusCreated, created)
}

func (api *moduleApi) unassign(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	var data progress.Assignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Assignment")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	n, err := api.deps.ProgressSvc.Unassign(ctx.Request().Context(), actor, m, data)
	if err != nil {
		return errors.Wrap(err, "unassigning module")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

// moduleMiddleware loads the Module `:id` if the context profile may read it.
func (api *moduleApi) moduleMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextProfile(ctx)
		if err != nil {
			return err
		}
		m, err := api.deps.ModuleSvc.GetFor(ctx.Request().Context(), actor, ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == module.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding module by ID")
		}
		ctx.Set(contextObjectKey, m)
		return next(ctx)
	}
}

func getContextModule(ctx echo.Context) (module.Module, error) {
	if m, ok := ctx.Get(contextObjectKey).(module.Module); ok {
		return m, nil
	}
	return module.Module{}, errors.Wrap(errObjNotFoundInCtx, "retrieving module from context")
}
