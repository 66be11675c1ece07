package billingsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
)

var ErrUnknownSubscription = errors.New("unknown subscription")

// DummyProvider is an in-process billing.Provider used for development and tests.
// Webhook payloads are plain JSON and are not signed.
type DummyProvider struct {
	frontendBaseURL string

	mu        sync.Mutex
	customers map[string]string // {customerID: profileID}
	subs      map[string]billing.ProviderSubscription
	checkouts []billing.CheckoutParams
}

var _ billing.Provider = (*DummyProvider)(nil)

func NewDummyProvider(conf *core.Config) *DummyProvider {
	return &DummyProvider{
		frontendBaseURL: conf.FrontendBaseURL,
		customers:       make(map[string]string),
		subs:            make(map[string]billing.ProviderSubscription),
	}
}

func (dp *DummyProvider) CreateCustomer(_ context.Context, profileID, _, _ string) (string, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	id := "cus_" + uuid.NewString()[:8]
	dp.customers[id] = profileID
	return id, nil
}

func (dp *DummyProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (string, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	if _, ok := dp.customers[params.CustomerID]; !ok {
		return "", errors.Errorf("unknown customer %s", params.CustomerID)
	}
	dp.checkouts = append(dp.checkouts, params)

	q := url.Values{}
	q.Set("customer", params.CustomerID)
	q.Set("price", params.PriceID)
	return fmt.Sprintf("%s/billing/checkout?%s", dp.frontendBaseURL, q.Encode()), nil
}

func (dp *DummyProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("return_url", returnURL)
	return fmt.Sprintf("%s/billing/portal?%s", dp.frontendBaseURL, q.Encode()), nil
}

func (dp *DummyProvider) GetSubscription(_ context.Context, id string) (billing.ProviderSubscription, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	ps, ok := dp.subs[id]
	if !ok {
		return billing.ProviderSubscription{}, errors.Wrap(ErrUnknownSubscription, id)
	}
	return ps, nil
}

func (dp *DummyProvider) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (billing.ProviderSubscription, error) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	ps, ok := dp.subs[id]
	if !ok {
		return billing.ProviderSubscription{}, errors.Wrap(ErrUnknownSubscription, id)
	}
	ps.CancelAtPeriodEnd = cancel
	dp.subs[id] = ps
	return ps, nil
}

// Subscribe creates an active subscription for the customer, as if a checkout session was paid.
func (dp *DummyProvider) Subscribe(customerID, priceID string, periodEnd time.Time) billing.ProviderSubscription {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	ps := billing.ProviderSubscription{
		ID:               "sub_" + uuid.NewString()[:8],
		CustomerID:       customerID,
		PriceID:          priceID,
		Status:           billing.StatusActive,
		CurrentPeriodEnd: periodEnd.UTC(),
	}
	dp.subs[ps.ID] = ps
	return ps
}

// Checkouts returns the checkout sessions created so far.
func (dp *DummyProvider) Checkouts() []billing.CheckoutParams {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return append([]billing.CheckoutParams(nil), dp.checkouts...)
}

type (
	dummyEvent struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	dummyCheckout struct {
		ClientReferenceID string `json:"client_reference_id"`
		Customer          string `json:"customer"`
		Subscription      string `json:"subscription"`
	}

	dummySubscription struct {
		ID                string `json:"id"`
		Customer          string `json:"customer"`
		Price             string `json:"price"`
		Status            string `json:"status"`
		CurrentPeriodEnd  int64  `json:"current_period_end"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	}

	dummyInvoice struct {
		Customer     string `json:"customer"`
		Subscription string `json:"subscription"`
		AmountDue    int64  `json:"amount_due"`
		Currency     string `json:"currency"`
	}
)

// ParseEvent decodes `{"id": ..., "type": ..., "data": {...}}`. The signature is ignored.
func (dp *DummyProvider) ParseEvent(payload []byte, _ string) (billing.Event, error) {
	var de dummyEvent
	if err := json.Unmarshal(payload, &de); err != nil {
		return billing.Event{}, errors.Wrap(err, "decoding event")
	}
	if de.Type == "" {
		return billing.Event{}, errors.New("missing event type")
	}
	ev := billing.Event{ID: de.ID, Type: de.Type}

	switch de.Type {
	case billing.EventCheckoutCompleted:
		var dc dummyCheckout
		if err := json.Unmarshal(de.Data, &dc); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding checkout session")
		}
		ev.Checkout = &billing.CheckoutCompleted{
			ClientReferenceID: dc.ClientReferenceID,
			CustomerID:        dc.Customer,
			SubscriptionID:    dc.Subscription,
		}

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var ds dummySubscription
		if err := json.Unmarshal(de.Data, &ds); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding subscription")
		}
		ps := billing.ProviderSubscription{
			ID:                ds.ID,
			CustomerID:        ds.Customer,
			PriceID:           ds.Price,
			Status:            ds.Status,
			CancelAtPeriodEnd: ds.CancelAtPeriodEnd,
		}
		if ds.CurrentPeriodEnd > 0 {
			ps.CurrentPeriodEnd = time.Unix(ds.CurrentPeriodEnd, 0).UTC()
		}
		ev.Subscription = &ps

		dp.mu.Lock()
		dp.subs[ps.ID] = ps
		dp.mu.Unlock()

	case billing.EventPaymentFailed:
		var di dummyInvoice
		if err := json.Unmarshal(de.Data, &di); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding invoice")
		}
		ev.Invoice = &billing.Invoice{
			CustomerID:     di.Customer,
			SubscriptionID: di.Subscription,
			AmountDue:      di.AmountDue,
			Currency:       di.Currency,
		}
	}
	return ev, nil
}
