// Package processor wraps the payment processor API behind a narrow client
// interface so the orchestrator can be tested against fakes.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
)

// Error is the single failure kind every processor operation returns. It
// carries enough structured data to decide retry versus surface-to-user.
type Error struct {
	Status    int    // HTTP status from the processor, 0 for transport errors
	Code      string // processor error code, e.g. "card_declined"
	RequestID string
	Msg       string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("processor error %s (status %d, request %s): %s", e.Code, e.Status, e.RequestID, e.Msg)
	}
	return fmt.Sprintf("processor error: %s", e.Msg)
}

// translate converts any failure from the SDK into *Error. No operation is
// allowed to leak a raw SDK error or silently swallow one.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return &Error{
			Status:    serr.HTTPStatusCode,
			Code:      string(serr.Code),
			RequestID: serr.RequestID,
			Msg:       serr.Msg,
		}
	}
	return &Error{Msg: err.Error()}
}

// BillingProfile is the customer detail used to create or update a processor
// customer.
type BillingProfile struct {
	Email string
	Name  string
	Phone string
}

// CreateIntentParams describes a payment intent to create. Intents are always
// created in manual capture mode; when both CustomerID and PaymentMethodID
// are set the intent is confirmed immediately against the saved method.
type CreateIntentParams struct {
	AmountMinor     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	OffSession      bool // true for scheduled renewals with no customer present
	Description     string
	Metadata        map[string]string
}

// Client is the adapter contract for processor operations. Every method
// returns *Error on failure.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*stripe.PaymentIntent, error)
	UpdateIntentAmount(ctx context.Context, id string, amountMinor int64) (*stripe.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CaptureIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)

	RetrieveCharge(ctx context.Context, id string) (*stripe.Charge, error)
	RetrieveBalanceTransaction(ctx context.Context, id string) (*stripe.BalanceTransaction, error)

	CreateCustomer(ctx context.Context, profile BillingProfile) (string, error)
	UpdateCustomer(ctx context.Context, id string, profile BillingProfile) error
	// SearchCustomer looks up an existing customer by exact email and name,
	// used to deduplicate guest checkouts. Returns empty string when no
	// customer matches.
	SearchCustomer(ctx context.Context, email, name string) (string, error)

	RetrievePaymentMethod(ctx context.Context, id string) (*stripe.PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, methodID string) error
	DetachPaymentMethod(ctx context.Context, methodID string) error

	CreateSetupIntent(ctx context.Context, customerID, usage string) (*stripe.SetupIntent, error)
	RetrieveSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)

	Refund(ctx context.Context, chargeID string, amountMinor int64) (*stripe.Refund, error)
}
