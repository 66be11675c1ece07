package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

var (
	// errors
	ErrPlanNotFound         = errors.New("plan not found")
	ErrNoSubscription       = errors.New("subscription not found")
	ErrInvalidEvent         = core.NewAppError("invalid webhook event", http.StatusBadRequest)
	ErrAlreadySubscribed    = core.NewAppError("you already have an active subscription; use the billing portal to change plans", http.StatusConflict)
	ErrNoBillingAccount     = core.NewAppError("you do not have a billing account yet", http.StatusBadRequest)
	ErrNoActiveSubscription = core.NewAppError("you do not have an active subscription", http.StatusBadRequest)
)

type (
	Repository interface {
		QueryPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
		GetPlan(ctx context.Context, filter PlanFilter) (Plan, error)
		// SavePlan inserts the Plan or updates the one with the same StripePriceID.
		SavePlan(ctx context.Context, p Plan) (Plan, error)
		GetSubscription(ctx context.Context, filter SubscriptionFilter) (Subscription, error)
		// SaveSubscription inserts the Subscription or updates the one of the same profile.
		SaveSubscription(ctx context.Context, s Subscription) (Subscription, error)
		// QueryLapsed lists the subscriptions set to cancel whose period ended before `now` and not yet canceled.
		QueryLapsed(ctx context.Context, now time.Time) ([]Subscription, error)
	}

	Service struct {
		repo     Repository
		profiles profile.Repository
		provider Provider
		mailer   core.EmailService
		conf     *core.Config
		logger   core.Logger
	}

	emailData struct {
		Name     string
		PlanName string
	}
)

func NewService(
	repo Repository,
	profiles profile.Repository,
	provider Provider,
	mailer core.EmailService,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		profiles: profiles,
		provider: provider,
		mailer:   mailer,
		conf:     conf,
		logger:   logger,
	}
}

func (svc *Service) Plans(ctx context.Context) ([]Plan, error) {
	return svc.repo.QueryPlans(ctx, true /* activeOnly */)
}

// SyncPlans creates or updates Plans, keyed on their provider price ID.
func (svc *Service) SyncPlans(ctx context.Context, plans ...NewPlan) ([]Plan, error) {
	saved := make([]Plan, 0, len(plans))
	for _, np := range plans {
		isActive := true
		if np.IsActive != nil {
			isActive = *np.IsActive
		}
		p, err := svc.repo.SavePlan(ctx, Plan{
			Name:          np.Name,
			Description:   np.Description,
			StripePriceID: np.StripePriceID,
			PriceCents:    np.PriceCents,
			Currency:      np.Currency,
			Interval:      np.Interval,
			MaxStudents:   np.MaxStudents,
			IsActive:      isActive,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "saving plan %s", np.StripePriceID)
		}
		saved = append(saved, p)
	}
	return saved, nil
}

// Current returns the Admin's subscription with its Plan.
func (svc *Service) Current(ctx context.Context, admin profile.Profile) (Subscription, error) {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: admin.ID})
	if err != nil {
		return Subscription{}, err
	}
	if sub.StripeSubscriptionID == "" { // customer only
		return Subscription{}, ErrNoSubscription
	}
	if sub.PlanID != "" {
		if plan, err := svc.repo.GetPlan(ctx, PlanFilter{ID: sub.PlanID}); err == nil {
			sub.Plan = &plan
		} else if errors.Cause(err) != ErrPlanNotFound {
			return Subscription{}, errors.Wrap(err, "getting plan")
		}
	}
	return sub, nil
}

// StudentLimit returns how many Students the Admin may manage: the Plan's limit while the subscription is
// active, the free allowance otherwise. A negative limit means unlimited.
func (svc *Service) StudentLimit(ctx context.Context, adminID string) (int, error) {
	if !svc.conf.Billing.Enabled {
		return -1, nil
	}
	free := svc.conf.Billing.FreeStudentLimit

	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: adminID})
	if err != nil {
		if errors.Cause(err) == ErrNoSubscription {
			return free, nil
		}
		return 0, errors.Wrap(err, "getting subscription")
	}
	if !sub.IsActive(core.NowFunc()) || sub.PlanID == "" {
		return free, nil
	}

	plan, err := svc.repo.GetPlan(ctx, PlanFilter{ID: sub.PlanID})
	if err != nil {
		if errors.Cause(err) == ErrPlanNotFound {
			return free, nil
		}
		return 0, errors.Wrap(err, "getting plan")
	}
	if plan.MaxStudents <= 0 {
		return -1, nil
	}
	return plan.MaxStudents, nil
}

// ensureCustomer returns the Admin's subscription row, creating the provider customer on first use.
func (svc *Service) ensureCustomer(ctx context.Context, admin profile.Profile) (Subscription, error) {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: admin.ID})
	if err == nil {
		return sub, nil
	}
	if errors.Cause(err) != ErrNoSubscription {
		return Subscription{}, errors.Wrap(err, "getting subscription")
	}

	customerID, err := svc.provider.CreateCustomer(ctx, admin.ID, admin.Email, admin.Name)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "creating customer")
	}
	now := core.NowFunc().UTC()
	sub, err = svc.repo.SaveSubscription(ctx, Subscription{
		ProfileID:        admin.ID,
		StripeCustomerID: customerID,
		Status:           StatusIncomplete,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	return sub, errors.Wrap(err, "saving customer")
}

// Checkout starts a subscription to the Plan and returns the provider's checkout URL.
func (svc *Service) Checkout(ctx context.Context, admin profile.Profile, cr CheckoutRequest) (string, error) {
	plan, err := svc.repo.GetPlan(ctx, PlanFilter{ID: cr.PlanID})
	if err != nil || !plan.IsActive {
		if err == nil || errors.Cause(err) == ErrPlanNotFound {
			return "", core.NewValidationError(nil, core.FieldError{Field: "plan_id", Error: ErrPlanNotFound.Error()})
		}
		return "", errors.Wrap(err, "getting plan")
	}

	sub, err := svc.ensureCustomer(ctx, admin)
	if err != nil {
		return "", err
	}
	if sub.IsActive(core.NowFunc()) {
		return "", ErrAlreadySubscribed
	}

	url, err := svc.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:        sub.StripeCustomerID,
		PriceID:           plan.StripePriceID,
		ClientReferenceID: admin.ID,
		SuccessURL:        svc.conf.Stripe.SuccessURL,
		CancelURL:         svc.conf.Stripe.CancelURL,
	})
	return url, errors.Wrap(err, "creating checkout session")
}

// Portal returns the URL of the provider's billing portal for the Admin.
func (svc *Service) Portal(ctx context.Context, admin profile.Profile) (string, error) {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: admin.ID})
	if err != nil {
		if errors.Cause(err) == ErrNoSubscription {
			return "", ErrNoBillingAccount
		}
		return "", errors.Wrap(err, "getting subscription")
	}
	url, err := svc.provider.CreatePortalSession(ctx, sub.StripeCustomerID, svc.conf.Stripe.PortalReturnURL)
	return url, errors.Wrap(err, "creating portal session")
}

func (svc *Service) Cancel(ctx context.Context, admin profile.Profile) (Subscription, error) {
	return svc.setCancelAtPeriodEnd(ctx, admin, true)
}

func (svc *Service) Reactivate(ctx context.Context, admin profile.Profile) (Subscription, error) {
	return svc.setCancelAtPeriodEnd(ctx, admin, false)
}

func (svc *Service) setCancelAtPeriodEnd(ctx context.Context, admin profile.Profile, cancel bool) (Subscription, error) {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: admin.ID})
	if err != nil {
		if errors.Cause(err) == ErrNoSubscription {
			return Subscription{}, ErrNoActiveSubscription
		}
		return Subscription{}, errors.Wrap(err, "getting subscription")
	}
	if !sub.IsActive(core.NowFunc()) {
		return Subscription{}, ErrNoActiveSubscription
	}

	ps, err := svc.provider.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel)
	if err != nil {
		return Subscription{}, errors.Wrap(err, "updating provider subscription")
	}
	if err = svc.apply(ctx, &sub, ps); err != nil {
		return Subscription{}, err
	}
	sub, err = svc.repo.SaveSubscription(ctx, sub)
	return sub, errors.Wrap(err, "saving subscription")
}

// apply copies the provider state of a subscription into sub.
func (svc *Service) apply(ctx context.Context, sub *Subscription, ps ProviderSubscription) error {
	sub.StripeSubscriptionID = ps.ID
	if ps.CustomerID != "" {
		sub.StripeCustomerID = ps.CustomerID
	}
	sub.Status = ps.Status
	sub.CurrentPeriodEnd = ps.CurrentPeriodEnd.UTC()
	sub.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
	sub.UpdatedAt = core.NowFunc().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = sub.UpdatedAt
	}

	if ps.PriceID != "" {
		plan, err := svc.repo.GetPlan(ctx, PlanFilter{StripePriceID: ps.PriceID})
		switch {
		case err == nil:
			sub.PlanID = plan.ID
		case errors.Cause(err) == ErrPlanNotFound:
			svc.logger.Warn(fmt.Sprintf("no plan for price %s", ps.PriceID))
		default:
			return errors.Wrap(err, "getting plan by price")
		}
	}
	return nil
}

// HandleWebhook verifies and handles a provider webhook payload.
func (svc *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := svc.provider.ParseEvent(payload, signature)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("invalid webhook event: %v", err))
		return ErrInvalidEvent
	}
	return svc.HandleEvent(ctx, ev)
}

// HandleEvent applies a provider event to the local subscriptions. Unknown events are ignored.
// Replaying an event leaves the same state.
func (svc *Service) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Checkout == nil {
			return ErrInvalidEvent
		}
		return svc.handleCheckoutCompleted(ctx, *ev.Checkout)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return ErrInvalidEvent
		}
		return svc.handleSubscriptionChange(ctx, ev.Type, *ev.Subscription)
	case EventPaymentFailed:
		if ev.Invoice == nil {
			return ErrInvalidEvent
		}
		return svc.handlePaymentFailed(ctx, *ev.Invoice)
	}
	return nil
}

func (svc *Service) handleCheckoutCompleted(ctx context.Context, cc CheckoutCompleted) error {
	if cc.SubscriptionID == "" {
		return nil
	}

	var sub Subscription
	var err error
	if cc.ClientReferenceID != "" {
		sub, err = svc.repo.GetSubscription(ctx, SubscriptionFilter{ProfileID: cc.ClientReferenceID})
	} else {
		sub, err = svc.repo.GetSubscription(ctx, SubscriptionFilter{StripeCustomerID: cc.CustomerID})
	}
	switch {
	case err == nil:
	case errors.Cause(err) != ErrNoSubscription:
		return errors.Wrap(err, "getting subscription")
	case cc.ClientReferenceID == "":
		svc.logger.Warn(fmt.Sprintf("%s: no local subscription for customer %s", EventCheckoutCompleted, cc.CustomerID))
		return nil
	default:
		sub = Subscription{ProfileID: cc.ClientReferenceID, StripeCustomerID: cc.CustomerID}
	}
	wasActive := sub.IsActive(core.NowFunc())

	ps, err := svc.provider.GetSubscription(ctx, cc.SubscriptionID)
	if err != nil {
		return errors.Wrap(err, "getting provider subscription")
	}
	if err = svc.apply(ctx, &sub, ps); err != nil {
		return err
	}
	if sub, err = svc.repo.SaveSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "saving subscription")
	}

	if !wasActive && sub.IsActive(core.NowFunc()) {
		svc.notify(ctx, sub, "subscription_started", "Your subscription is active")
	}
	return nil
}

func (svc *Service) handleSubscriptionChange(ctx context.Context, evType string, ps ProviderSubscription) error {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{StripeSubscriptionID: ps.ID})
	if errors.Cause(err) == ErrNoSubscription && ps.CustomerID != "" {
		sub, err = svc.repo.GetSubscription(ctx, SubscriptionFilter{StripeCustomerID: ps.CustomerID})
	}
	if err != nil {
		if errors.Cause(err) == ErrNoSubscription {
			svc.logger.Warn(fmt.Sprintf("%s: no local subscription for %s", evType, ps.ID))
			return nil
		}
		return errors.Wrap(err, "getting subscription")
	}
	// a late event about a previous subscription must not replace the active one
	if sub.StripeSubscriptionID != "" && sub.StripeSubscriptionID != ps.ID && sub.IsActive(core.NowFunc()) {
		svc.logger.Info(fmt.Sprintf("%s: ignoring %s, customer %s is subscribed with %s",
			evType, ps.ID, sub.StripeCustomerID, sub.StripeSubscriptionID))
		return nil
	}
	wasCanceled := sub.Status == StatusCanceled

	if evType == EventSubscriptionDeleted {
		ps.Status = StatusCanceled
	}
	if err = svc.apply(ctx, &sub, ps); err != nil {
		return err
	}
	if sub, err = svc.repo.SaveSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "saving subscription")
	}

	if evType == EventSubscriptionDeleted && !wasCanceled {
		svc.notify(ctx, sub, "subscription_ended", "Your subscription has ended")
	}
	return nil
}

func (svc *Service) handlePaymentFailed(ctx context.Context, inv Invoice) error {
	sub, err := svc.repo.GetSubscription(ctx, SubscriptionFilter{StripeCustomerID: inv.CustomerID})
	if err != nil {
		if errors.Cause(err) == ErrNoSubscription {
			svc.logger.Warn(fmt.Sprintf("%s: no local subscription for customer %s", EventPaymentFailed, inv.CustomerID))
			return nil
		}
		return errors.Wrap(err, "getting subscription")
	}
	svc.notify(ctx, sub, "payment_failed", "We could not process your payment")
	return nil
}

// ExpireLapsed cancels the subscriptions set to cancel whose period has ended, and returns how many were.
func (svc *Service) ExpireLapsed(ctx context.Context) (int, error) {
	now := core.NowFunc().UTC()
	subs, err := svc.repo.QueryLapsed(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "querying lapsed subscriptions")
	}

	var n int
	for _, sub := range subs {
		sub.Status = StatusCanceled
		sub.UpdatedAt = now
		if sub, err = svc.repo.SaveSubscription(ctx, sub); err != nil {
			return n, errors.Wrap(err, "expiring subscription")
		}
		n++
		svc.notify(ctx, sub, "subscription_ended", "Your subscription has ended")
	}
	return n, nil
}

// notify emails the Admin owning the subscription. Failures are logged.
func (svc *Service) notify(ctx context.Context, sub Subscription, tmpl, subject string) {
	admin, err := svc.profiles.GetProfile(ctx, profile.GetFilter{ID: sub.ProfileID})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("getting profile %s: %v", sub.ProfileID, err), err)
		return
	}
	if admin.Email == "" {
		return
	}

	data := emailData{Name: admin.Name}
	if sub.PlanID != "" {
		if plan, err := svc.repo.GetPlan(ctx, PlanFilter{ID: sub.PlanID}); err == nil {
			data.PlanName = plan.Name
		}
	}
	svc.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: admin.Name, Address: admin.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: data,
	})
}
