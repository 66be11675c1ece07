package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
	"github.com/noteearly/noteearly/core/vocabulary"
)

var (
	errMissingToken         = echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed jwt")
	errInvalidToken         = echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired jwt")
	errProfileNotFound      = echo.NewHTTPError(http.StatusUnauthorized, "profile not found")
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
	errTooManyRequests      = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
)

// sentinel errors of the repositories, all reported as 404
var notFoundErrs = map[error]bool{
	profile.ErrNotFound:       true,
	module.ErrNotFound:        true,
	progress.ErrNotFound:      true,
	vocabulary.ErrNotFound:    true,
	billing.ErrPlanNotFound:   true,
	billing.ErrNoSubscription: true,
}

func isNotFound(err error) bool {
	return notFoundErrs[errors.Cause(err)]
}

// errorResponse maps a handler error to its status code and JSON body.
// ok is false for unexpected errors, which are reported as 500.
func errorResponse(err error, translator ut.Translator) (code int, body interface{}, ok bool) {
	switch cause := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if inner, isHTTP := cause.Internal.(*echo.HTTPError); isHTTP {
			cause = inner
		}
		return cause.Code, cause.Message, true

	case validator.ValidationErrors:
		fields := make(map[string]string, len(cause))
		for _, fe := range cause {
			fields[fe.Field()] = fe.Translate(translator)
		}
		return http.StatusBadRequest, fields, true

	case *core.ValidationError:
		if len(cause.Fields) == 0 {
			return http.StatusBadRequest, cause.Error(), true
		}
		fields := make(map[string]string, len(cause.Fields))
		for _, fe := range cause.Fields {
			fields[fe.Field] = fe.Error
		}
		return http.StatusBadRequest, fields, true

	case *core.AppError:
		return cause.StatusCode, cause.Message, true
	}

	if isNotFound(err) {
		return http.StatusNotFound, errHttpNotFound.Message, true
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), false
}

// newAppHTTPErrorHandler returns the echo.HTTPErrorHandler writing our errors as JSON.
// Unexpected errors are logged; signalShutdown is called when one of them is a core shutdown error.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, body, ok := errorResponse(err, translator)
		if !ok {
			args := []interface{}{err}
			if p, isProfile := ctx.Get(contextProfileKey).(profile.Profile); isProfile {
				args = append(args, p.Person())
			}
			logger.Error(ctx.Request().Method+" "+ctx.Path()+": "+err.Error(), args...)

			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				body = err.Error()
			}
		}
		if msg, isStr := body.(string); isStr {
			body = echo.Map{"error": msg}
		}

		if ctx.Response().Committed {
			return
		}
		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, body)
		}
		if err != nil {
			logger.Warn("writing error response", err)
		}
	}
}
