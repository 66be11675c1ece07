package billingsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
)

// StripeProvider is the Stripe implementation of billing.Provider.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

var _ billing.Provider = (*StripeProvider)(nil)

func NewStripeProvider(conf *core.Config) *StripeProvider {
	return &StripeProvider{
		api:           client.New(conf.Stripe.SecretKey, nil),
		webhookSecret: conf.Stripe.WebhookSecret,
	}
}

func (sp *StripeProvider) CreateCustomer(ctx context.Context, profileID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("profile_id", profileID)

	cus, err := sp.api.Customers.New(params)
	if err != nil {
		return "", errors.Wrap(err, "creating stripe customer")
	}
	return cus.ID, nil
}

func (sp *StripeProvider) CreateCheckoutSession(ctx context.Context, cp billing.CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(cp.CustomerID),
		ClientReferenceID: stripe.String(cp.ClientReferenceID),
		SuccessURL:        stripe.String(cp.SuccessURL),
		CancelURL:         stripe.String(cp.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(cp.PriceID), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx

	sess, err := sp.api.CheckoutSessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "creating stripe checkout session")
	}
	return sess.URL, nil
}

func (sp *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := sp.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "creating stripe portal session")
	}
	return sess.URL, nil
}

func (sp *StripeProvider) GetSubscription(ctx context.Context, id string) (billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := sp.api.Subscriptions.Get(id, params)
	if err != nil {
		return billing.ProviderSubscription{}, errors.Wrap(err, "getting stripe subscription")
	}
	return toProviderSubscription(sub), nil
}

func (sp *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (billing.ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	sub, err := sp.api.Subscriptions.Update(id, params)
	if err != nil {
		return billing.ProviderSubscription{}, errors.Wrap(err, "updating stripe subscription")
	}
	return toProviderSubscription(sub), nil
}

func (sp *StripeProvider) ParseEvent(payload []byte, signature string) (billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, sp.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return billing.Event{}, errors.Wrap(err, "verifying stripe event")
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (billing.Event, error) {
	ev := billing.Event{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding checkout session")
		}
		cc := &billing.CheckoutCompleted{ClientReferenceID: sess.ClientReferenceID}
		if sess.Customer != nil {
			cc.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			cc.SubscriptionID = sess.Subscription.ID
		}
		ev.Checkout = cc

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding subscription")
		}
		ps := toProviderSubscription(&sub)
		ev.Subscription = &ps

	case billing.EventPaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding invoice")
		}
		i := &billing.Invoice{
			AmountDue: inv.AmountDue,
			Currency:  string(inv.Currency),
			HostedURL: inv.HostedInvoiceURL,
		}
		if inv.Customer != nil {
			i.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			i.SubscriptionID = inv.Subscription.ID
		}
		ev.Invoice = i
	}
	return ev, nil
}

func toProviderSubscription(sub *stripe.Subscription) billing.ProviderSubscription {
	ps := billing.ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		ps.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Customer != nil {
		ps.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		ps.PriceID = sub.Items.Data[0].Price.ID
	}
	return ps
}
