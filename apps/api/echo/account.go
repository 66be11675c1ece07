package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core/profile"
)

type accountApi struct {
	deps ServerDeps
}

func registerAuthAPI(g *echo.Group, auth, registerAuth echo.MiddlewareFunc, deps ServerDeps) {
	api := accountApi{deps: deps}
	limiter := newIPRateLimiter(deps.Conf.Server.LoginRateLimit, deps.Conf.Server.LoginRateBurst)

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/student/login", api.studentLogin, limiter.middleware)

	// authed endpoints
	ag.POST("/admin/register", api.registerAdmin, registerAuth)
	ag.POST("/token-refresh", api.refreshToken, auth, studentOnly)
	ag.GET("/me", api.me, auth)
}

func (api *accountApi) studentLogin(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx, api.deps, data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(api.deps.Conf, claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *accountApi) registerAdmin(ctx echo.Context) error {
	if p, err := getContextProfile(ctx); err == nil {
		return ctx.JSON(http.StatusOK, p)
	}
	ident, ok := ctx.Get(contextIdentityKey).(profile.Identity)
	if !ok {
		return errUnauthorized
	}

	var data profile.NewAdmin
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAdmin")
	}
	if err := data.Validate(api.deps.Validate); err != nil {
		return err
	}

	p, created, err := api.deps.ProfileSvc.RegisterAdmin(ctx.Request().Context(), ident, data)
	if err != nil {
		return errors.Wrap(err, "registering admin")
	}
	if created {
		api.deps.Logger.Info("admin registered", p.Person())
		return ctx.JSON(http.StatusCreated, p)
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *accountApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.deps)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *accountApi) me(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}
