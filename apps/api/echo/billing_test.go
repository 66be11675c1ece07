package echoapi_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/noteearly/noteearly/apps/api/echo"
	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	testutil "github.com/noteearly/noteearly/tests"
)

func webhookTest(t *testing.T, env *testEnv, payload string) {
	t.Helper()
	httpTest{
		method:   http.MethodPost,
		path:     "/v1/webhooks/stripe",
		body:     []byte(payload),
		wantData: []byte(`{"received":true}`),
	}.run(t, env)
}

func TestBilling_Plans(t *testing.T) {
	env := setup(t)
	basic := testutil.CreatePlan(t, env.billingRepo, "Basic", "price_basic", 10)
	_, err := env.billingRepo.SavePlan(context.Background(), billing.Plan{
		Name:          "Legacy",
		StripePriceID: "price_legacy",
		PriceCents:    500,
		Currency:      "usd",
		Interval:      "month",
		IsActive:      false,
	})
	require.NoError(t, err)

	httpTest{
		path:     "/v1/plans",
		wantData: marchallList(t, basic),
	}.run(t, env)
	assert.NotContains(t, string(marchallObj(t, basic)), "price_basic", "the provider price ID is not exposed")
}

func TestBilling_SubscriptionLifecycle(t *testing.T) {
	env := setup(t, func(conf *core.Config) {
		conf.Billing.Enabled = true
		conf.Billing.FreeStudentLimit = 1
	})
	ada := testutil.CreateAdmin(t, env.profileRepo, "Ada", "ada@example.com", false)
	kito := testutil.CreateStudent(t, env.profileRepo, ada, "Kito", "kito", "", true)
	plan := testutil.CreatePlan(t, env.billingRepo, "Classroom", "price_classroom", 3)
	token := env.adminToken(ada)

	newStudent := func(uname string) []byte {
		return []byte(fmt.Sprintf(`{"name":"%s","username":"%s","password":"Tr4vel-Light","password_confirm":"Tr4vel-Light"}`, uname, uname))
	}

	t.Run("students cannot subscribe", func(t *testing.T) {
		httpTest{
			path:     "/v1/subscription",
			token:    getToken(t, env.conf, kito),
			wantCode: http.StatusForbidden,
		}.run(t, env)
	})

	t.Run("no subscription yet", func(t *testing.T) {
		httpTest{
			path:     "/v1/subscription",
			token:    token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, errNotFound),
		}.run(t, env)

		httpTest{
			method:   http.MethodPost,
			path:     "/v1/subscription/portal",
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "you do not have a billing account yet"}),
		}.run(t, env)

		httpTest{
			method:   http.MethodPost,
			path:     "/v1/students",
			token:    token,
			body:     newStudent("amani"),
			wantCode: http.StatusPaymentRequired,
		}.run(t, env)
	})

	t.Run("checkout validation", func(t *testing.T) {
		httpTest{
			method:   http.MethodPost,
			path:     "/v1/subscription/checkout",
			token:    token,
			body:     []byte(`{"plan_id":"not-a-uuid"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"plan_id":"plan_id must be a valid UUID"}`),
		}.run(t, env)

		httpTest{
			method:   http.MethodPost,
			path:     "/v1/subscription/checkout",
			token:    token,
			body:     []byte(`{"plan_id":"9b2d7c1e-4f3a-4e5b-8c6d-0a1b2c3d4e5f"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"plan_id":"plan not found"}`),
		}.run(t, env)
	})

	var customerID string
	t.Run("checkout", func(t *testing.T) {
		rec := httpTest{
			method: http.MethodPost,
			path:   "/v1/subscription/checkout",
			token:  token,
			body:   marchallObj(t, billing.CheckoutRequest{PlanID: plan.ID}),
		}.run(t, env)

		var resp URLResponse
		unmarshal(t, rec, &resp)
		assert.True(t, strings.HasPrefix(resp.URL, env.conf.FrontendBaseURL+"/billing/checkout?"), resp.URL)

		checkouts := env.provider.Checkouts()
		require.Len(t, checkouts, 1)
		assert.Equal(t, "price_classroom", checkouts[0].PriceID)
		assert.Equal(t, ada.ID, checkouts[0].ClientReferenceID)
		assert.Equal(t, env.conf.Stripe.SuccessURL, checkouts[0].SuccessURL)
		customerID = checkouts[0].CustomerID
	})

	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	ps := env.provider.Subscribe(customerID, "price_classroom", periodEnd)

	t.Run("checkout completed", func(t *testing.T) {
		payload := fmt.Sprintf(
			`{"id":"evt_1","type":"checkout.session.completed","data":{"client_reference_id":%q,"customer":%q,"subscription":%q}}`,
			ada.ID, customerID, ps.ID,
		)
		webhookTest(t, env, payload)
		webhookTest(t, env, payload) // replayed

		sent := env.mailer.SentMessages()
		require.Len(t, sent, 1, "replaying the event does not notify again")
		assert.Equal(t, "ada@example.com", sent[0].To[0].Address)
		assert.Equal(t, "subscription_started", sent[0].TemplateName)

		rec := httpTest{path: "/v1/subscription", token: token}.run(t, env)
		var sub billing.Subscription
		unmarshal(t, rec, &sub)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, plan.ID, sub.PlanID)
		require.NotNil(t, sub.Plan)
		assert.Equal(t, "Classroom", sub.Plan.Name)
		assert.True(t, periodEnd.Equal(sub.CurrentPeriodEnd))
	})

	t.Run("plan limit applies", func(t *testing.T) {
		httpTest{method: http.MethodPost, path: "/v1/students", token: token, body: newStudent("amani"), wantCode: http.StatusCreated}.run(t, env)
		httpTest{method: http.MethodPost, path: "/v1/students", token: token, body: newStudent("zawadi"), wantCode: http.StatusCreated}.run(t, env)
		httpTest{method: http.MethodPost, path: "/v1/students", token: token, body: newStudent("baraka"), wantCode: http.StatusPaymentRequired}.run(t, env)
	})

	t.Run("already subscribed", func(t *testing.T) {
		httpTest{
			method:   http.MethodPost,
			path:     "/v1/subscription/checkout",
			token:    token,
			body:     marchallObj(t, billing.CheckoutRequest{PlanID: plan.ID}),
			wantCode: http.StatusConflict,
		}.run(t, env)
	})

	t.Run("portal", func(t *testing.T) {
		rec := httpTest{method: http.MethodPost, path: "/v1/subscription/portal", token: token}.run(t, env)
		var resp URLResponse
		unmarshal(t, rec, &resp)
		assert.Contains(t, resp.URL, "customer="+customerID)
	})

	t.Run("cancel and reactivate", func(t *testing.T) {
		rec := httpTest{method: http.MethodPost, path: "/v1/subscription/cancel", token: token}.run(t, env)
		var sub billing.Subscription
		unmarshal(t, rec, &sub)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, billing.StatusActive, sub.Status)

		rec = httpTest{method: http.MethodPost, path: "/v1/subscription/reactivate", token: token}.run(t, env)
		unmarshal(t, rec, &sub)
		assert.False(t, sub.CancelAtPeriodEnd)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		webhookTest(t, env, fmt.Sprintf(
			`{"id":"evt_2","type":"customer.subscription.deleted","data":{"id":%q,"customer":%q,"price":"price_classroom","status":"canceled","current_period_end":%d}}`,
			ps.ID, customerID, periodEnd.Unix(),
		))

		rec := httpTest{path: "/v1/subscription", token: token}.run(t, env)
		var sub billing.Subscription
		unmarshal(t, rec, &sub)
		assert.Equal(t, billing.StatusCanceled, sub.Status)

		sent := env.mailer.SentMessages()
		require.Len(t, sent, 2)
		assert.Equal(t, "subscription_ended", sent[1].TemplateName)

		httpTest{
			method:   http.MethodPost,
			path:     "/v1/subscription/cancel",
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "you do not have an active subscription"}),
		}.run(t, env)
	})
}

func TestBilling_Webhook(t *testing.T) {
	env := setup(t)

	tests := []httpTest{
		{
			name:     "not json",
			body:     []byte(`not json`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid webhook event"}),
		},
		{
			name:     "missing type",
			body:     []byte(`{"id":"evt_1"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid webhook event"}),
		},
		{
			name:     "unknown events are ignored",
			body:     []byte(`{"id":"evt_2","type":"customer.created","data":{}}`),
			wantData: []byte(`{"received":true}`),
		},
		{
			name:     "large payloads are read whole",
			body:     []byte(`{"id":"evt_4","type":"invoice.finalized","data":{"lines":"` + strings.Repeat("x", 200<<10) + `"}}`),
			wantData: []byte(`{"received":true}`),
		},
		{
			name:     "too large",
			body:     []byte(`{"id":"evt_5","type":"invoice.finalized","data":{"lines":"` + strings.Repeat("x", 2<<20) + `"}}`),
			wantCode: http.StatusRequestEntityTooLarge,
			wantData: marchallObj(t, httpErr{Error: "webhook payload too large"}),
		},
		{
			name:     "unknown customer is ignored",
			body:     []byte(`{"id":"evt_3","type":"invoice.payment_failed","data":{"customer":"cus_unknown","amount_due":900,"currency":"usd"}}`),
			wantData: []byte(`{"received":true}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/v1/webhooks/stripe"
			tt.run(t, env)
		})
	}
	assert.Empty(t, env.mailer.SentMessages())
}
