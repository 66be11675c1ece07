package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core/billing"
)

const maxWebhookBodySize = 1 << 20

var errWebhookTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook payload too large")

type billingApi struct {
	deps ServerDeps
}

func registerBillingAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := billingApi{deps: deps}

	// un-authed endpoints
	g.GET("/plans", api.queryPlans)
	g.POST("/webhooks/stripe", api.webhook)

	// authed endpoints
	sg := g.Group("/subscription", auth, adminOnly)
	sg.GET("", api.current)
	sg.POST("/checkout", api.checkout)
	sg.POST("/portal", api.portal)
	sg.POST("/cancel", api.cancel)
	sg.POST("/reactivate", api.reactivate)
}

// Handlers

func (api *billingApi) queryPlans(ctx echo.Context) error {
	plans, err := api.deps.BillingSvc.Plans(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying plans")
	}
	if plans == nil {
		plans = []billing.Plan{}
	}
	return ctx.JSON(http.StatusOK, plans)
}

func (api *billingApi) current(ctx echo.Context) error {
	admin, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	sub, err := api.deps.BillingSvc.Current(ctx.Request().Context(), admin)
	if err != nil {
		return errors.Wrap(err, "getting subscription")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *billingApi) checkout(ctx echo.Context) error {
	admin, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data billing.CheckoutRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckoutRequest")
	}
	if err = data.Validate(api.deps.Validate); err != nil {
		return err
	}

	url, err := api.deps.BillingSvc.Checkout(ctx.Request().Context(), admin, data)
	if err != nil {
		return errors.Wrap(err, "starting checkout")
	}
	return ctx.JSON(http.StatusOK, URLResponse{URL: url})
}

func (api *billingApi) portal(ctx echo.Context) error {
	admin, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	url, err := api.deps.BillingSvc.Portal(ctx.Request().Context(), admin)
	if err != nil {
		return errors.Wrap(err, "opening billing portal")
	}
	return ctx.JSON(http.StatusOK, URLResponse{URL: url})
}

func (api *billingApi) cancel(ctx echo.Context) error {
	admin, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	sub, err := api.deps.BillingSvc.Cancel(ctx.Request().Context(), admin)
	if err != nil {
		return errors.Wrap(err, "canceling subscription")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *billingApi) reactivate(ctx echo.Context) error {
	admin, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	sub, err := api.deps.BillingSvc.Reactivate(ctx.Request().Context(), admin)
	if err != nil {
		return errors.Wrap(err, "reactivating subscription")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *billingApi) webhook(ctx echo.Context) error {
	body := http.MaxBytesReader(ctx.Response(), ctx.Request().Body, maxWebhookBodySize)
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errWebhookTooLarge
		}
		return errors.Wrap(err, "reading webhook payload")
	}
	signature := ctx.Request().Header.Get("Stripe-Signature")

	if err = api.deps.BillingSvc.HandleWebhook(ctx.Request().Context(), payload, signature); err != nil {
		return errors.Wrap(err, "handling webhook")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}
