package billing

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noteearly/noteearly/core"
)

// Subscription statuses, as reported by the billing provider
const (
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
	StatusPaused            = "paused"
)

// Event types
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

var activeStatuses = []string{StatusActive, StatusTrialing, StatusPastDue}

// Plan is a subscription plan. MaxStudents caps the Students an Admin may manage; 0 means unlimited.
type Plan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	StripePriceID string `json:"-"`
	PriceCents    int64  `json:"price_cents"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval"`
	MaxStudents   int    `json:"max_students"`
	IsActive      bool   `json:"is_active"`
}

// NewPlan describes a Plan to create or update, keyed on its provider price ID.
type NewPlan struct {
	Name          string `json:"name" mapstructure:"name" validate:"required,max=128"`
	Description   string `json:"description" mapstructure:"description" validate:"max=2000"`
	StripePriceID string `json:"stripe_price_id" mapstructure:"stripe_price_id" validate:"required,max=255"`
	PriceCents    int64  `json:"price_cents" mapstructure:"price_cents" validate:"min=0"`
	Currency      string `json:"currency" mapstructure:"currency" validate:"required,len=3"`
	Interval      string `json:"interval" mapstructure:"interval" validate:"required,oneof=month year"`
	MaxStudents   int    `json:"max_students" mapstructure:"max_students" validate:"min=0"`
	IsActive      *bool  `json:"is_active" mapstructure:"is_active"`
}

func (np *NewPlan) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	np.StripePriceID = core.CleanString(np.StripePriceID)
	np.Currency = core.CleanString(np.Currency, true /* lower */)
	if np.Currency == "" {
		np.Currency = "usd"
	}
	np.Interval = core.CleanString(np.Interval, true /* lower */)
	if np.Interval == "" {
		np.Interval = "month"
	}
	return validate.Struct(np)
}

// Subscription mirrors an Admin's subscription at the billing provider.
type Subscription struct {
	ID                   string    `json:"id"`
	ProfileID            string    `json:"profile_id"`
	PlanID               string    `json:"plan_id,omitempty"`
	StripeCustomerID     string    `json:"-"`
	StripeSubscriptionID string    `json:"-"`
	Status               string    `json:"status"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"` // UTC
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
	CreatedAt            time.Time `json:"created_at"` // UTC
	UpdatedAt            time.Time `json:"updated_at"` // UTC

	Plan *Plan `json:"plan,omitempty"`
}

// IsActive reports whether the subscription grants its Plan at `now`.
func (s Subscription) IsActive(now time.Time) bool {
	if s.StripeSubscriptionID == "" || !core.StringInSlice(s.Status, activeStatuses) {
		return false
	}
	return s.CurrentPeriodEnd.IsZero() || s.CurrentPeriodEnd.After(now)
}

type CheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required,uuid"`
}

func (cr *CheckoutRequest) Validate(validate *validator.Validate) error {
	cr.PlanID = core.CleanString(cr.PlanID)
	return validate.Struct(cr)
}

type PlanFilter struct {
	ID            string
	StripePriceID string
}

type SubscriptionFilter struct {
	ProfileID            string
	StripeCustomerID     string
	StripeSubscriptionID string
}

type (
	CheckoutParams struct {
		CustomerID        string
		PriceID           string
		ClientReferenceID string
		SuccessURL        string
		CancelURL         string
	}

	// ProviderSubscription is a subscription as known by the billing provider.
	ProviderSubscription struct {
		ID                string
		CustomerID        string
		PriceID           string
		Status            string
		CurrentPeriodEnd  time.Time
		CancelAtPeriodEnd bool
	}

	CheckoutCompleted struct {
		ClientReferenceID string
		CustomerID        string
		SubscriptionID    string
	}

	Invoice struct {
		CustomerID     string
		SubscriptionID string
		AmountDue      int64
		Currency       string
		HostedURL      string
	}

	// Event is a verified provider webhook event. Only the payload matching Type is set.
	Event struct {
		ID           string
		Type         string
		Checkout     *CheckoutCompleted
		Subscription *ProviderSubscription
		Invoice      *Invoice
	}

	// Provider is a billing provider (Stripe).
	Provider interface {
		CreateCustomer(ctx context.Context, profileID, email, name string) (string, error)
		CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
		CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
		GetSubscription(ctx context.Context, id string) (ProviderSubscription, error)
		SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (ProviderSubscription, error)
		// ParseEvent verifies the signature of a webhook payload and decodes it.
		ParseEvent(payload []byte, signature string) (Event, error)
	}
)
