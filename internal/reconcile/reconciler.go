// Package reconcile applies asynchronous processor confirmations to orders.
// Events arrive at least once and in any order, so every operation here is
// an idempotent no-op when there is nothing to do.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"

	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
)

// Reconciler advances the order state machine from webhook-delivered intent
// state. It may run concurrently with the synchronous checkout path for the
// same order; the state machine's idempotent transitions absorb the races.
type Reconciler struct {
	gatewayID string
	client    processor.Client
	orders    order.Repository
	machine   *order.Machine
	logger    *slog.Logger
}

// New creates a reconciler for the given gateway.
func New(gatewayID string, client processor.Client, orders order.Repository, machine *order.Machine, logger *slog.Logger) *Reconciler {
	if gatewayID == "" {
		gatewayID = "stripe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		gatewayID: gatewayID,
		client:    client,
		orders:    orders,
		machine:   machine,
		logger:    logger,
	}
}

// ours reports whether the order is payable by this gateway. Orders paid by
// another gateway, or with no gateway recorded yet, are silently skipped.
func (r *Reconciler) ours(ord *order.Order) bool {
	gw := ord.GetMeta(order.MetaGateway)
	return gw == "" || gw == r.gatewayID
}

// OnIntentCreated records the intent's customer and payment method on the
// order and moves it into processing. A canceled intent fails the order with
// the cancellation reason.
func (r *Reconciler) OnIntentCreated(ctx context.Context, ord *order.Order) error {
	if !r.ours(ord) {
		return nil
	}
	intentID := ord.GetMeta(order.MetaIntentID)
	if intentID == "" {
		return nil
	}

	intent, err := r.client.RetrieveIntent(ctx, intentID)
	if err != nil {
		return err
	}

	if intent.Customer != nil && intent.Customer.ID != "" {
		ord.SetMeta(order.MetaProcessorCustomer, intent.Customer.ID)
	}
	if intent.PaymentMethod != nil && intent.PaymentMethod.ID != "" {
		ord.SetMeta(order.MetaProcessorSource, intent.PaymentMethod.ID)
	}

	if intent.CancellationReason != "" {
		note := fmt.Sprintf("Payment intent %s canceled: %s", intent.ID, intent.CancellationReason)
		ord.AddNote(note)
		if ord.Status == order.StatusPaymentFailed || ord.Terminal() {
			return r.orders.Save(ctx, ord)
		}
		return r.machine.PaymentFail(ctx, ord, note)
	}

	if ord.Status == order.StatusDraft || ord.Status == order.StatusPendingPayment {
		return r.machine.PaymentInitiate(ctx, ord,
			fmt.Sprintf("Payment initiated (intent %s).", intent.ID))
	}
	return r.orders.Save(ctx, ord)
}

// OnConfirmation re-checks the intent the order references and settles the
// order accordingly. Already-paid orders are unaffected regardless of how
// many times this runs.
func (r *Reconciler) OnConfirmation(ctx context.Context, ord *order.Order) error {
	if !r.ours(ord) {
		return nil
	}
	intentID := ord.GetMeta(order.MetaIntentID)
	if intentID == "" {
		return nil
	}

	intent, err := r.client.RetrieveIntent(ctx, intentID)
	if err != nil {
		return err
	}

	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		ord.SetMeta(order.MetaChargeCaptured, "yes")
		if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
			ord.SetMeta(order.MetaChargeID, intent.LatestCharge.ID)
		}
		ord.DeleteMeta(order.MetaAwaitingAction)
		return r.machine.PaymentConfirm(ctx, ord,
			fmt.Sprintf("Payment confirmed by processor (intent %s).", intent.ID))
	}

	if ord.Status == order.StatusPaymentFailed || ord.Terminal() {
		r.logger.InfoContext(ctx, "confirmation for settled order ignored",
			"order_id", ord.ID, "intent_status", intent.Status)
		return nil
	}
	return r.machine.PaymentFail(ctx, ord,
		fmt.Sprintf("Payment confirmation failed (intent %s, status %s).", intent.ID, intent.Status))
}
