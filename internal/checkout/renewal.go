package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
)

// ProcessRenewal charges a subscription renewal order using the processor
// customer and payment method stored on it. The scheduler owns retry policy;
// failures here transition the order and are returned without internal
// retries.
func (oc *Orchestrator) ProcessRenewal(ctx context.Context, ord *order.Order) error {
	err := oc.processRenewal(ctx, ord)
	if err == nil {
		oc.metrics.RecordRenewal("succeeded")
		return nil
	}

	oc.metrics.RecordRenewal("failed")
	oc.logger.ErrorContext(ctx, "subscription renewal charge failed",
		"order_id", ord.ID, "error", err)

	var derr *DeclinedError
	if !errors.As(err, &derr) && !ord.Terminal() {
		if ferr := oc.machine.PaymentFail(ctx, ord, fmt.Sprintf("Renewal payment failed: %s", err)); ferr != nil {
			oc.logger.ErrorContext(ctx, "failed to mark renewal order payment_failed",
				"order_id", ord.ID, "error", ferr)
		}
	}
	oc.publish(ctx, PaymentFailed{OrderID: ord.ID, Reason: err.Error()})
	return err
}

func (oc *Orchestrator) processRenewal(ctx context.Context, ord *order.Order) error {
	minor := currency.ToMinorUnits(ord.Total, ord.Currency)
	if minor <= 0 {
		if err := oc.machine.ProcessOrder(ctx, ord, "Zero-amount renewal; no payment required."); err != nil {
			return err
		}
		ord.DeleteMeta(order.MetaAwaitingAction)
		return oc.orders.Save(ctx, ord)
	}

	procCustomer := ord.GetMeta(order.MetaProcessorCustomer)
	sourceID := ord.GetMeta(order.MetaProcessorSource)
	if procCustomer == "" || sourceID == "" {
		return validationf("renewal order %s has no stored customer and payment method", ord.ID)
	}

	ord.SetMeta(order.MetaGateway, oc.opts.GatewayID)
	ref := ParseReference(sourceID)

	intent, err := oc.client.CreateIntent(ctx, processor.CreateIntentParams{
		AmountMinor:     minor,
		Currency:        ord.Currency,
		CustomerID:      procCustomer,
		PaymentMethodID: ref.ID,
		OffSession:      true,
		Description:     fmt.Sprintf("Subscription renewal for order %s", ord.ID),
		Metadata:        map[string]string{"order_id": ord.ID, "renewal": "yes"},
	})
	if err != nil {
		return err
	}

	ord.SetMeta(order.MetaIntentID, intent.ID)
	oc.publish(ctx, IntentCreated{OrderID: ord.ID, IntentID: intent.ID})
	if err := oc.machine.PaymentInitiate(ctx, ord, fmt.Sprintf("Renewal payment initiated (intent %s).", intent.ID)); err != nil {
		return err
	}

	if err := oc.orders.AcquireLock(ctx, ord.ID, order.LockPayment, intent.ID); err != nil {
		return err
	}
	defer func() {
		if rerr := oc.orders.ReleaseLock(ctx, ord.ID, order.LockPayment); rerr != nil {
			oc.logger.WarnContext(ctx, "failed to release payment lock",
				"order_id", ord.ID, "error", rerr)
		}
	}()

	captured, err := oc.capture(ctx, ord, intent)
	if err != nil {
		return err
	}

	pm := oc.lookupPaymentMethod(ctx, captured)
	oc.recordReconciliation(ord, captured, pm, procCustomer, true)
	if err := oc.orders.Save(ctx, ord); err != nil {
		return fmt.Errorf("failed to persist renewal metadata: %w", err)
	}

	var tokenID string
	if pm != nil && reusable(pm) && !ord.IsGuest() {
		if saved, serr := oc.saveToken(ctx, ord.CustomerID, pm); serr == nil {
			tokenID = saved.ID
		}
	}
	return oc.propagateToSubscriptions(ctx, ord, procCustomer, paymentMethodID(captured), tokenID)
}
