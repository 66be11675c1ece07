package billingsvc

import (
	"github.com/pkg/errors"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
)

// ErrStripeNotConfigured is returned when billing is enabled in production without a Stripe secret key.
var ErrStripeNotConfigured = errors.New("billing is enabled but stripe.secretKey is not set")

// NewProvider returns the Stripe provider when a secret key is configured.
// The dummy provider accepts unsigned webhooks, so it is only used in debug and test modes,
// or when billing is disabled and no webhook can change a Student limit.
func NewProvider(conf *core.Config) (billing.Provider, bool, error) {
	if conf.Stripe.SecretKey != "" {
		return NewStripeProvider(conf), false, nil
	}
	if conf.Billing.Enabled && !conf.Debug && !conf.TestMode {
		return nil, false, ErrStripeNotConfigured
	}
	return NewDummyProvider(conf), true, nil
}
