package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v81"

	"github.com/fenwick-labs/payflow/internal/order"
)

func renewalOrder(t *testing.T, env *testEnv) *order.Order {
	t.Helper()
	ord := &order.Order{
		Total: 29.99, Currency: "USD",
		CustomerID: "cust_1",
		Status:     order.StatusPendingPayment,
	}
	ord.SetMeta(order.MetaProcessorCustomer, "cus_9")
	ord.SetMeta(order.MetaProcessorSource, "pm_1")
	return env.saveOrder(t, ord)
}

// TestProcessRenewal_Success verifies an off-session renewal charge against
// the stored customer and method pays the order.
func TestProcessRenewal_Success(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.client.createdIntentCharge = "ch_1"
	env.wireCapture("pi_unused", "ch_1", &stripe.ChargeOutcome{Type: "authorized"}, stripe.ChargeStatusSucceeded)

	ord := renewalOrder(t, env)
	if err := env.oc.ProcessRenewal(ctx, ord); err != nil {
		t.Fatalf("ProcessRenewal failed: %v", err)
	}

	if ord.Status != order.StatusPaid {
		t.Errorf("status = %s, want paid", ord.Status)
	}
	params := env.client.lastCreateIntent
	if !params.OffSession {
		t.Error("renewal intent must be off-session")
	}
	if params.CustomerID != "cus_9" || params.PaymentMethodID != "pm_1" {
		t.Errorf("intent params = %+v", params)
	}
	if params.AmountMinor != 2999 {
		t.Errorf("amount = %d, want 2999", params.AmountMinor)
	}
}

// TestProcessRenewal_MissingReference verifies a renewal order without the
// stored customer and method fails validation and is marked payment_failed.
func TestProcessRenewal_MissingReference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	ord := env.saveOrder(t, &order.Order{
		Total: 29.99, Currency: "USD",
		CustomerID: "cust_1",
		Status:     order.StatusPendingPayment,
	})

	err := env.oc.ProcessRenewal(ctx, ord)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ord.Status != order.StatusPaymentFailed {
		t.Errorf("status = %s, want payment_failed", ord.Status)
	}
}

// TestProcessRenewal_Declined verifies a declined renewal leaves the order
// payment_failed and reports the decline.
func TestProcessRenewal_Declined(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.client.createdIntentCharge = "ch_1"
	env.wireCapture("pi_unused", "ch_1",
		&stripe.ChargeOutcome{Type: "issuer_declined", SellerMessage: "Insufficient funds."},
		stripe.ChargeStatusFailed)

	ord := renewalOrder(t, env)
	err := env.oc.ProcessRenewal(ctx, ord)
	var derr *DeclinedError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DeclinedError, got %v", err)
	}
	if ord.Status != order.StatusPaymentFailed {
		t.Errorf("status = %s, want payment_failed", ord.Status)
	}
}

// TestProcessRenewal_LegacySourceReference verifies legacy src_ references
// pass through the reference parser unchanged.
func TestProcessRenewal_LegacySourceReference(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.client.createdIntentCharge = "ch_1"
	env.wireCapture("pi_unused", "ch_1", &stripe.ChargeOutcome{Type: "authorized"}, stripe.ChargeStatusSucceeded)

	ord := &order.Order{Total: 29.99, Currency: "USD", CustomerID: "cust_1", Status: order.StatusPendingPayment}
	ord.SetMeta(order.MetaProcessorCustomer, "cus_9")
	ord.SetMeta(order.MetaProcessorSource, "src_legacy")
	env.saveOrder(t, ord)

	if err := env.oc.ProcessRenewal(ctx, ord); err != nil {
		t.Fatalf("ProcessRenewal failed: %v", err)
	}
	if env.client.lastCreateIntent.PaymentMethodID != "src_legacy" {
		t.Errorf("method id = %q, want src_legacy", env.client.lastCreateIntent.PaymentMethodID)
	}
}

// TestProcessRenewal_ZeroAmount verifies a free renewal is paid without a
// processor charge.
func TestProcessRenewal_ZeroAmount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	ord := env.saveOrder(t, &order.Order{Total: 0, Currency: "USD", Status: order.StatusPendingPayment})
	if err := env.oc.ProcessRenewal(ctx, ord); err != nil {
		t.Fatalf("ProcessRenewal failed: %v", err)
	}
	if ord.Status != order.StatusPaid {
		t.Errorf("status = %s, want paid", ord.Status)
	}
	if env.client.createIntentCalls != 0 {
		t.Error("no intent may be created for a zero-amount renewal")
	}
}
