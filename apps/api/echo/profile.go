package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core/profile"
)

const contextObjectKey = "object"

var errObjNotFoundInCtx = errors.New("object not found in echo.Context")

type profileApi struct {
	deps ServerDeps
}

func registerProfileAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := profileApi{deps: deps}

	sg := g.Group("/students", auth, adminOnly)
	sg.GET("", api.queryStudents)
	sg.POST("", api.createStudent)

	// detail endpoints
	dg := sg.Group("/:id", api.studentMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.updateStudent)
	dg.DELETE("", api.destroyStudent)
	dg.POST("/password", api.setStudentPassword)

	ag := g.Group("/admins", auth, superAdminOnly)
	ag.GET("", api.queryAdmins)
	ag.GET("/:id", api.retrieve, api.adminMiddleware)
	ag.PUT("/:id", api.updateAdmin, api.adminMiddleware)
}

// Handlers

func (api *profileApi) queryStudents(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := new(profile.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []profile.Profile{})
	}
	bindProfileFilter(ctx, filter)
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.deps.ProfileSvc.QueryStudents(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []profile.Profile{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *profileApi) createStudent(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data profile.NewStudent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	reqCtx := ctx.Request().Context()
	if err = data.Validate(reqCtx, api.deps.Validate, api.deps.ProfileSvc); err != nil {
		return err
	}

	student, err := api.deps.ProfileSvc.CreateStudent(reqCtx, actor, data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, student)
}

func (api *profileApi) retrieve(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(profile.Profile)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *profileApi) updateStudent(ctx echo.Context) error {
	student, ok := ctx.Get(contextObjectKey).(profile.Profile)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	var data profile.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	reqCtx := ctx.Request().Context()
	if err := data.Validate(reqCtx, student, api.deps.Validate, api.deps.ProfileSvc); err != nil {
		return err
	}

	student, err := api.deps.ProfileSvc.UpdateStudent(reqCtx, student, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *profileApi) setStudentPassword(ctx echo.Context) error {
	student, ok := ctx.Get(contextObjectKey).(profile.Profile)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	var data profile.SetStudentPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetStudentPassword")
	}
	if err := data.Validate(student, api.deps.Validate); err != nil {
		return err
	}

	if _, err := api.deps.ProfileSvc.SetStudentPassword(ctx.Request().Context(), student, data); err != nil {
		return errors.Wrap(err, "setting student password")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *profileApi) destroyStudent(ctx echo.Context) error {
	student, ok := ctx.Get(contextObjectKey).(profile.Profile)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	if err := api.deps.ProfileSvc.Delete(ctx.Request().Context(), student.ID); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *profileApi) queryAdmins(ctx echo.Context) error {
	filter := new(profile.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []profile.Profile{})
	}
	bindProfileFilter(ctx, filter)
	ordering := new(Ordering)
	ordering.Bind(ctx)

	admins, err := api.deps.ProfileSvc.QueryAdmins(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying admins")
	}
	if admins == nil {
		admins = []profile.Profile{}
	}
	return ctx.JSON(http.StatusOK, admins)
}

func (api *profileApi) updateAdmin(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	admin, ok := ctx.Get(contextObjectKey).(profile.Profile)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	var data profile.UpdateAdmin
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAdmin")
	}
	if err = data.Validate(admin, api.deps.Validate); err != nil {
		return err
	}

	admin, err = api.deps.ProfileSvc.UpdateAdmin(ctx.Request().Context(), actor, admin, data)
	if err != nil {
		return errors.Wrap(err, "updating admin")
	}
	return ctx.JSON(http.StatusOK, admin)
}

func bindProfileFilter(ctx echo.Context, filter *profile.QueryFilter) {
	filter.IsActive = queryBool(ctx, "is_active")
	filter.CreatedFrom = queryTime(ctx, "created_from")
	filter.CreatedTo = queryTime(ctx, "created_to")
	filter.Clean()
}

// studentMiddleware loads the Student `:id` managed by the context Admin.
func (api *profileApi) studentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextProfile(ctx)
		if err != nil {
			return err
		}
		student, err := api.deps.ProfileSvc.GetStudentFor(ctx.Request().Context(), actor, ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == profile.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding student by ID")
		}
		ctx.Set(contextObjectKey, student)
		return next(ctx)
	}
}

func (api *profileApi) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		admin, err := api.deps.ProfileSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == profile.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding admin by ID")
		}
		if !admin.IsAdmin() {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, admin)
		return next(ctx)
	}
}
