package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/vocabulary"
)

type vocabularyApi struct {
	deps ServerDeps
}

func registerVocabularyAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := vocabularyApi{deps: deps}

	vg := g.Group("/vocabulary", auth)
	vg.GET("", api.query)
	vg.POST("", api.create, studentOnly)
	vg.DELETE("/:id", api.destroy, studentOnly)
}

// Handlers

func (api *vocabularyApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := new(vocabulary.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []vocabulary.Entry{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)
	reqCtx := ctx.Request().Context()

	studentID := actor.ID
	if actor.IsAdmin() {
		studentID = core.CleanString(filter.StudentID)
		if studentID == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "this field is required"})
		}
		if _, err = api.deps.ProfileSvc.GetStudentFor(reqCtx, actor, studentID); err != nil {
			if errors.Cause(err) == profile.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding student by ID")
		}
	}

	entries, err := api.deps.VocabularySvc.Query(reqCtx, studentID, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying vocabulary")
	}
	if entries == nil {
		entries = []vocabulary.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *vocabularyApi) create(ctx echo.Context) error {
	student, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data vocabulary.NewEntry
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEntry")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	e, err := api.deps.VocabularySvc.Add(ctx.Request().Context(), student, data)
	if err != nil {
		return errors.Wrap(err, "adding vocabulary entry")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *vocabularyApi) destroy(ctx echo.Context) error {
	student, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if err = api.deps.VocabularySvc.Delete(ctx.Request().Context(), student, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting vocabulary entry")
	}
	return ctx.NoContent(http.StatusNoContent)
}
