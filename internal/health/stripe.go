package health

import (
	"context"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/balance"
)

// StripeChecker implements health checking for the Stripe API by fetching
// the account balance, a cheap authenticated read.
type StripeChecker struct{}

// NewStripeChecker creates a new Stripe health checker. The global Stripe key
// must already be configured.
func NewStripeChecker() *StripeChecker {
	return &StripeChecker{}
}

// HealthCheck performs a health check against the Stripe API.
func (s *StripeChecker) HealthCheck(ctx context.Context) error {
	_, err := balance.Get(&stripe.BalanceParams{Params: stripe.Params{Context: ctx}})
	return err
}
