package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/balancetransaction"
	"github.com/stripe/stripe-go/v81/charge"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/paymentmethod"
	"github.com/stripe/stripe-go/v81/refund"
	"github.com/stripe/stripe-go/v81/setupintent"
)

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct{}

// NewStripeClient creates a new Stripe client with the given secret key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateIntent creates a manual-capture payment intent. With a saved payment
// method and customer it is confirmed immediately.
func (c *StripeClient) CreateIntent(ctx context.Context, params CreateIntentParams) (*stripe.PaymentIntent, error) {
	piParams := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(params.AmountMinor),
		Currency:      stripe.String(strings.ToLower(params.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	if params.CustomerID != "" {
		piParams.Customer = stripe.String(params.CustomerID)
	}
	if params.Metadata != nil {
		piParams.Metadata = params.Metadata
	}
	if params.PaymentMethodID != "" && params.CustomerID != "" {
		piParams.PaymentMethod = stripe.String(params.PaymentMethodID)
		piParams.Confirm = stripe.Bool(true)
		if params.OffSession {
			piParams.OffSession = stripe.Bool(true)
		}
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, translate(err)
	}
	return pi, nil
}

// UpdateIntentAmount updates the amount of an unconfirmed intent, used when
// the order total changes between intent creation and checkout submission.
func (c *StripeClient) UpdateIntentAmount(ctx context.Context, id string, amountMinor int64) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Update(id, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
		Amount: stripe.Int64(amountMinor),
	})
	if err != nil {
		return nil, translate(err)
	}
	return pi, nil
}

// RetrieveIntent fetches a payment intent by id.
func (c *StripeClient) RetrieveIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Get(id, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return pi, nil
}

// CaptureIntent finalizes a manual-capture intent.
func (c *StripeClient) CaptureIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Capture(id, &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return pi, nil
}

// RetrieveCharge fetches a charge, used to read the capture outcome.
func (c *StripeClient) RetrieveCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	ch, err := charge.Get(id, &stripe.ChargeParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return ch, nil
}

// RetrieveBalanceTransaction fetches fee and net detail for a charge.
func (c *StripeClient) RetrieveBalanceTransaction(ctx context.Context, id string) (*stripe.BalanceTransaction, error) {
	bt, err := balancetransaction.Get(id, &stripe.BalanceTransactionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return bt, nil
}

// CreateCustomer creates a processor customer from a billing profile.
func (c *StripeClient) CreateCustomer(ctx context.Context, profile BillingProfile) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if profile.Email != "" {
		params.Email = stripe.String(profile.Email)
	}
	if profile.Name != "" {
		params.Name = stripe.String(profile.Name)
	}
	if profile.Phone != "" {
		params.Phone = stripe.String(profile.Phone)
	}

	cus, err := customer.New(params)
	if err != nil {
		return "", translate(err)
	}
	return cus.ID, nil
}

// UpdateCustomer updates the billing profile of an existing customer.
func (c *StripeClient) UpdateCustomer(ctx context.Context, id string, profile BillingProfile) error {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if profile.Email != "" {
		params.Email = stripe.String(profile.Email)
	}
	if profile.Name != "" {
		params.Name = stripe.String(profile.Name)
	}
	if profile.Phone != "" {
		params.Phone = stripe.String(profile.Phone)
	}

	_, err := customer.Update(id, params)
	return translate(err)
}

// SearchCustomer finds an existing customer by exact email and name. The
// first match wins; returns empty string when none match.
func (c *StripeClient) SearchCustomer(ctx context.Context, email, name string) (string, error) {
	query := fmt.Sprintf("email:'%s'", email)
	if name != "" {
		query += fmt.Sprintf(" AND name:'%s'", name)
	}
	it := customer.Search(&stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   query,
		},
	})
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", translate(err)
	}
	return "", nil
}

// RetrievePaymentMethod fetches a payment method by id.
func (c *StripeClient) RetrievePaymentMethod(ctx context.Context, id string) (*stripe.PaymentMethod, error) {
	pm, err := paymentmethod.Get(id, &stripe.PaymentMethodParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return pm, nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, customerID, methodID string) error {
	_, err := paymentmethod.Attach(methodID, &stripe.PaymentMethodAttachParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
	})
	return translate(err)
}

// DetachPaymentMethod detaches a payment method from its customer.
func (c *StripeClient) DetachPaymentMethod(ctx context.Context, methodID string) error {
	_, err := paymentmethod.Detach(methodID, &stripe.PaymentMethodDetachParams{
		Params: stripe.Params{Context: ctx},
	})
	return translate(err)
}

// CreateSetupIntent creates a setup intent for saving a payment method
// without charging.
func (c *StripeClient) CreateSetupIntent(ctx context.Context, customerID, usage string) (*stripe.SetupIntent, error) {
	params := &stripe.SetupIntentParams{
		Params: stripe.Params{Context: ctx},
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if usage != "" {
		params.Usage = stripe.String(usage)
	}

	si, err := setupintent.New(params)
	if err != nil {
		return nil, translate(err)
	}
	return si, nil
}

// RetrieveSetupIntent fetches a setup intent by id.
func (c *StripeClient) RetrieveSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	si, err := setupintent.Get(id, &stripe.SetupIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, translate(err)
	}
	return si, nil
}

// Refund issues a refund against a charge. A zero amountMinor refunds the
// full charge.
func (c *StripeClient) Refund(ctx context.Context, chargeID string, amountMinor int64) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		Params: stripe.Params{Context: ctx},
		Charge: stripe.String(chargeID),
	}
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}

	ref, err := refund.New(params)
	if err != nil {
		return nil, translate(err)
	}
	return ref, nil
}
