package sqlxrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
)

const (
	planColumns         = "id, name, description, stripe_price_id, price_cents, currency, interval, max_students, is_active"
	subscriptionColumns = "id, profile_id, plan_id, stripe_customer_id, stripe_subscription_id, status, current_period_end, cancel_at_period_end, created_at, updated_at"
)

type planRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	Description   string `db:"description"`
	StripePriceID string `db:"stripe_price_id"`
	PriceCents    int64  `db:"price_cents"`
	Currency      string `db:"currency"`
	Interval      string `db:"interval"`
	MaxStudents   int    `db:"max_students"`
	IsActive      bool   `db:"is_active"`
}

func (row planRow) plan() billing.Plan {
	return billing.Plan(row)
}

type subscriptionRow struct {
	ID                   string      `db:"id"`
	ProfileID            string      `db:"profile_id"`
	PlanID               null.String `db:"plan_id"`
	StripeCustomerID     string      `db:"stripe_customer_id"`
	StripeSubscriptionID null.String `db:"stripe_subscription_id"`
	Status               string      `db:"status"`
	CurrentPeriodEnd     null.Time   `db:"current_period_end"`
	CancelAtPeriodEnd    bool        `db:"cancel_at_period_end"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

func newSubscriptionRow(s billing.Subscription) subscriptionRow {
	return subscriptionRow{
		ID:                   s.ID,
		ProfileID:            s.ProfileID,
		PlanID:               nullString(s.PlanID),
		StripeCustomerID:     s.StripeCustomerID,
		StripeSubscriptionID: nullString(s.StripeSubscriptionID),
		Status:               s.Status,
		CurrentPeriodEnd:     nullTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		CreatedAt:            s.CreatedAt.UTC(),
		UpdatedAt:            s.UpdatedAt.UTC(),
	}
}

func (row subscriptionRow) subscription() billing.Subscription {
	return billing.Subscription{
		ID:                   row.ID,
		ProfileID:            row.ProfileID,
		PlanID:               row.PlanID.String,
		StripeCustomerID:     row.StripeCustomerID,
		StripeSubscriptionID: row.StripeSubscriptionID.String,
		Status:               row.Status,
		CurrentPeriodEnd:     utc(row.CurrentPeriodEnd),
		CancelAtPeriodEnd:    row.CancelAtPeriodEnd,
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
}

type billingRepository struct {
	db core.DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db core.DB) *billingRepository {
	return &billingRepository{db: db}
}

func (repo *billingRepository) QueryPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	query := "SELECT " + planColumns + " FROM subscription_plans"
	if activeOnly {
		query += " WHERE is_active"
	}
	var rows []planRow
	if err := repo.db.SelectContext(ctx, &rows, query+" ORDER BY price_cents"); err != nil {
		return nil, errors.Wrap(err, "querying plans")
	}
	plans := make([]billing.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, row.plan())
	}
	return plans, nil
}

func (repo *billingRepository) GetPlan(ctx context.Context, filter billing.PlanFilter) (billing.Plan, error) {
	var cond, arg string
	switch {
	case filter.ID != "":
		if !validIDs(filter.ID) {
			return billing.Plan{}, billing.ErrPlanNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.StripePriceID != "":
		cond, arg = "stripe_price_id = $1", filter.StripePriceID
	default:
		return billing.Plan{}, billing.ErrPlanNotFound
	}

	var row planRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+planColumns+" FROM subscription_plans WHERE "+cond, arg); err != nil {
		return billing.Plan{}, trapNoRowsErr(err, billing.ErrPlanNotFound, "getting plan")
	}
	return row.plan(), nil
}

func (repo *billingRepository) SavePlan(ctx context.Context, p billing.Plan) (billing.Plan, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	query, args, err := repo.db.BindNamed(`INSERT INTO subscription_plans (`+planColumns+`)
		VALUES (:id, :name, :description, :stripe_price_id, :price_cents, :currency, :interval, :max_students, :is_active)
		ON CONFLICT (stripe_price_id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency, interval = EXCLUDED.interval, max_students = EXCLUDED.max_students,
			is_active = EXCLUDED.is_active
		RETURNING id`, planRow(p))
	if err != nil {
		return billing.Plan{}, errors.Wrap(err, "binding plan")
	}
	if err = repo.db.GetContext(ctx, &p.ID, query, args...); err != nil {
		return billing.Plan{}, errors.Wrap(err, "saving plan")
	}
	return p, nil
}

func (repo *billingRepository) GetSubscription(ctx context.Context, filter billing.SubscriptionFilter) (billing.Subscription, error) {
	var cond, arg string
	switch {
	case filter.ProfileID != "":
		if !validIDs(filter.ProfileID) {
			return billing.Subscription{}, billing.ErrNoSubscription
		}
		cond, arg = "profile_id = $1", filter.ProfileID
	case filter.StripeSubscriptionID != "":
		cond, arg = "stripe_subscription_id = $1", filter.StripeSubscriptionID
	case filter.StripeCustomerID != "":
		cond, arg = "stripe_customer_id = $1", filter.StripeCustomerID
	default:
		return billing.Subscription{}, billing.ErrNoSubscription
	}

	var row subscriptionRow
	err := repo.db.GetContext(ctx, &row, "SELECT "+subscriptionColumns+" FROM customer_subscriptions WHERE "+cond+" LIMIT 1", arg)
	if err != nil {
		return billing.Subscription{}, trapNoRowsErr(err, billing.ErrNoSubscription, "getting subscription")
	}
	return row.subscription(), nil
}

func (repo *billingRepository) SaveSubscription(ctx context.Context, s billing.Subscription) (billing.Subscription, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	s.Plan = nil
	query, args, err := repo.db.BindNamed(`INSERT INTO customer_subscriptions (`+subscriptionColumns+`)
		VALUES (:id, :profile_id, :plan_id, :stripe_customer_id, :stripe_subscription_id, :status,
			:current_period_end, :cancel_at_period_end, :created_at, :updated_at)
		ON CONFLICT (profile_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id, stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id, status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end, cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`, newSubscriptionRow(s))
	if err != nil {
		return billing.Subscription{}, errors.Wrap(err, "binding subscription")
	}
	var saved struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err = repo.db.GetContext(ctx, &saved, query, args...); err != nil {
		return billing.Subscription{}, errors.Wrap(err, "saving subscription")
	}
	s.ID, s.CreatedAt = saved.ID, saved.CreatedAt.UTC()
	return s, nil
}

func (repo *billingRepository) QueryLapsed(ctx context.Context, now time.Time) ([]billing.Subscription, error) {
	var rows []subscriptionRow
	err := repo.db.SelectContext(ctx, &rows, "SELECT "+subscriptionColumns+` FROM customer_subscriptions
		WHERE cancel_at_period_end AND status <> $1 AND current_period_end < $2`, billing.StatusCanceled, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying lapsed subscriptions")
	}
	subs := make([]billing.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.subscription())
	}
	return subs, nil
}
