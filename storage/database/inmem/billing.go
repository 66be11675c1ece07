package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/noteearly/noteearly/core/billing"
)

type billingRepository struct {
	db *DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *DB) *billingRepository {
	return &billingRepository{db: db}
}

func (repo *billingRepository) QueryPlans(_ context.Context, activeOnly bool) ([]billing.Plan, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	plans := make([]billing.Plan, 0, len(repo.db.plans))
	for _, p := range repo.db.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		plans = append(plans, *p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].PriceCents < plans[j].PriceCents })
	return plans, nil
}

func (repo *billingRepository) GetPlan(_ context.Context, filter billing.PlanFilter) (billing.Plan, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, p := range repo.db.plans {
		if (filter.ID != "" && p.ID == filter.ID) || (filter.ID == "" && filter.StripePriceID != "" && p.StripePriceID == filter.StripePriceID) {
			return *p, nil
		}
	}
	return billing.Plan{}, billing.ErrPlanNotFound
}

func (repo *billingRepository) SavePlan(_ context.Context, p billing.Plan) (billing.Plan, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.plans {
		if existing.StripePriceID == p.StripePriceID {
			p.ID = existing.ID
		}
	}
	if p.ID == "" {
		p.ID = newID()
	}
	repo.db.plans[p.ID] = &p
	return p, nil
}

func (repo *billingRepository) GetSubscription(_ context.Context, filter billing.SubscriptionFilter) (billing.Subscription, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, s := range repo.db.subscriptions {
		var match bool
		switch {
		case filter.ProfileID != "":
			match = s.ProfileID == filter.ProfileID
		case filter.StripeSubscriptionID != "":
			match = s.StripeSubscriptionID == filter.StripeSubscriptionID
		case filter.StripeCustomerID != "":
			match = s.StripeCustomerID == filter.StripeCustomerID
		}
		if match {
			return *s, nil
		}
	}
	return billing.Subscription{}, billing.ErrNoSubscription
}

func (repo *billingRepository) SaveSubscription(_ context.Context, s billing.Subscription) (billing.Subscription, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s.Plan = nil
	for _, existing := range repo.db.subscriptions {
		if existing.ProfileID == s.ProfileID {
			s.ID = existing.ID
			s.CreatedAt = existing.CreatedAt
		}
	}
	if s.ID == "" {
		s.ID = newID()
	}
	repo.db.subscriptions[s.ID] = &s
	return s, nil
}

func (repo *billingRepository) QueryLapsed(_ context.Context, now time.Time) ([]billing.Subscription, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subs := make([]billing.Subscription, 0)
	for _, s := range repo.db.subscriptions {
		if s.CancelAtPeriodEnd && s.Status != billing.StatusCanceled &&
			!s.CurrentPeriodEnd.IsZero() && s.CurrentPeriodEnd.Before(now) {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}
