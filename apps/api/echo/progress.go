package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type (
	progressApi struct {
		deps ServerDeps
	}

	SubmissionResponse struct {
		Progress   progress.Progress   `json:"progress"`
		Submission progress.Submission `json:"submission"`
	}
)

func registerProgressAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := progressApi{deps: deps}

	pg := g.Group("/progress", auth)
	pg.GET("", api.query)
	pg.GET("/export", api.export, adminOnly)
}

// registerModuleProgressAPI registers the progress endpoints of a single Module.
func registerModuleProgressAPI(dg *echo.Group, deps ServerDeps) {
	api := progressApi{deps: deps}

	dg.POST("/start", api.start, studentOnly)
	dg.POST("/submissions", api.submit, studentOnly)
	dg.GET("/submissions", api.querySubmissions)
}

// Handlers

func (api *progressApi) start(ctx echo.Context) error {
	student, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}

	p, err := api.deps.ProgressSvc.Start(ctx.Request().Context(), student, m)
	if err != nil {
		return errors.Wrap(err, "starting module")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *progressApi) submit(ctx echo.Context) error {
	student, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	var data progress.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	p, sub, err := api.deps.ProgressSvc.Submit(ctx.Request().Context(), student, m, data)
	if err != nil {
		return errors.Wrap(err, "submitting summary")
	}
	return ctx.JSON(http.StatusOK, SubmissionResponse{Progress: p, Submission: sub})
}

func (api *progressApi) querySubmissions(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	m, err := getContextModule(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	studentID := actor.ID
	if actor.IsAdmin() {
		studentID = core.CleanString(ctx.QueryParam("student_id"))
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

	subs, err := api.deps.ProgressSvc.ListSubmissions(reqCtx, studentID, m.ID)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []progress.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *progressApi) query(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := new(progress.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []progress.Progress{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	prog, err := api.deps.ProgressSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying progress")
	}
	if prog == nil {
		prog = []progress.Progress{}
	}
	return ctx.JSON(http.StatusOK, prog)
}

func (api *progressApi) export(ctx echo.Context) error {
	actor, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	filter := new(progress.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	var buf bytes.Buffer
	if err = api.deps.ProgressSvc.Export(ctx.Request().Context(), actor, filter, &buf); err != nil {
		return errors.Wrap(err, "exporting progress")
	}

	filename := fmt.Sprintf("progress-%s.xlsx", core.NowFunc().UTC().Format("20060102"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
