package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/module"
	testutil "github.com/noteearly/noteearly/tests"
)

func TestErrorResponse(t *testing.T) {
	validate, translator := testutil.NewTranslatedValidator()
	vErr := validate.Struct(struct {
		Title string `json:"title" validate:"required"`
	}{})
	require.IsType(t, validator.ValidationErrors{}, vErr)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody interface{}
		wantOK   bool
	}{
		{"http error", errRefreshExpired, http.StatusForbidden, "refresh has expired", true},
		{"wrapped internal http error", echo.NewHTTPError(http.StatusBadRequest).SetInternal(errTooManyRequests), http.StatusTooManyRequests, "too many requests", true},
		{"validator errors", errors.Wrap(vErr, "validating"), http.StatusBadRequest, map[string]string{"title": "this field is required"}, true},
		{"validation error fields", core.NewValidationError(nil, core.FieldError{Field: "module_id", Error: "unknown"}), http.StatusBadRequest, map[string]string{"module_id": "unknown"}, true},
		{"validation error message", core.NewValidationError(errors.New("bad input")), http.StatusBadRequest, "bad input", true},
		{"app error", errors.Wrap(core.ErrForbidden, "checking"), http.StatusForbidden, "permission denied", true},
		{"not found", errors.Wrap(module.ErrNotFound, "getting module"), http.StatusNotFound, "not found", true},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body, ok := errorResponse(tc.err, translator)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantBody, body)
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestAppHTTPErrorHandler_Shutdown(t *testing.T) {
	conf := core.NewTestConfig()
	var signaled int
	handler := newAppHTTPErrorHandler(testutil.NewLogger(t, conf), core.NewTranslator(), func() { signaled++ })

	e := echo.New()
	serve := func(err error) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler(err, e.NewContext(httptest.NewRequest(http.MethodGet, "/v1/modules", nil), rec))
		return rec
	}

	rec := serve(errors.Wrap(core.NewShutdownError("getting module: sql: connection is already closed"), "handler"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "Internal Server Error"}`, rec.Body.String())
	assert.Equal(t, 1, signaled)

	rec = serve(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, signaled)

	rec = serve(errHttpForbidden)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error": "permission denied"}`, rec.Body.String())
}
