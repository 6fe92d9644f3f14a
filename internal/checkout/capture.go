package checkout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/order"
)

// Charge outcome types reported by the processor.
const (
	outcomeManualReview = "manual_review"
	outcomeAuthorized   = "authorized"
)

// capture finalizes a manual-capture intent and interprets the charge
// outcome. Callers must hold the payment lock for the intent.
//
// The asymmetry in the bookkeeping branches is deliberate: once CaptureIntent
// succeeds the money has moved at the processor, so a failure reading the
// charge or balance transaction afterwards must never be reported as a failed
// capture. The order is flagged for visibility and the capture response is
// still returned.
func (oc *Orchestrator) capture(ctx context.Context, ord *order.Order, intent *stripe.PaymentIntent) (*stripe.PaymentIntent, error) {
	captured, err := oc.client.CaptureIntent(ctx, intent.ID)
	if err != nil {
		oc.metrics.RecordCapture("error")
		return nil, err
	}

	chargeID := ""
	if captured.LatestCharge != nil {
		chargeID = captured.LatestCharge.ID
	}
	ch, err := oc.client.RetrieveCharge(ctx, chargeID)
	if err != nil {
		oc.bookkeepingFailed(ctx, ord, &BookkeepingError{ChargeID: chargeID, Err: err})
		return captured, nil
	}

	outcomeType := ""
	if ch.Outcome != nil {
		outcomeType = string(ch.Outcome.Type)
	}

	switch {
	case outcomeType == outcomeManualReview:
		ord.SetMeta(order.MetaChargeID, ch.ID)
		note := fmt.Sprintf("Charge %s placed under manual review by the processor; order held.", ch.ID)
		if err := oc.machine.HoldOrder(ctx, ord, note); err != nil {
			return captured, err
		}
		oc.metrics.RecordCapture("manual_review")

	case ch.Status == stripe.ChargeStatusSucceeded || outcomeType == outcomeAuthorized:
		ord.SetMeta(order.MetaChargeID, ch.ID)
		ord.SetMeta(order.MetaChargeCaptured, "yes")
		note := fmt.Sprintf("Payment captured (charge %s).", ch.ID)
		if err := oc.machine.ProcessOrder(ctx, ord, note); err != nil {
			return captured, err
		}
		oc.metrics.RecordCapture("succeeded")
		oc.publish(ctx, PaymentCaptured{
			OrderID:  ord.ID,
			IntentID: captured.ID,
			ChargeID: ch.ID,
			Amount:   currency.FromMinorUnits(ch.Amount, string(ch.Currency)),
			Currency: string(ch.Currency),
		})

	default:
		reason := declineReason(ch.Outcome)
		if err := oc.machine.PaymentFail(ctx, ord, reason); err != nil {
			return captured, err
		}
		if err := oc.orders.Save(ctx, ord); err != nil {
			oc.logger.ErrorContext(ctx, "failed to persist declined order", "order_id", ord.ID, "error", err)
		}
		oc.metrics.RecordCapture("declined")
		return captured, &DeclinedError{ChargeID: ch.ID, Reason: reason}
	}

	oc.accumulateFees(ctx, ord, ch)
	return captured, nil
}

// accumulateFees adds the processor fee and net amounts for the charge's
// balance transaction to the order's running totals. The addition is blind,
// matching the reference behavior: a repeated capture of the same charge
// would double-count, which is why capture runs at most once per intent
// under the payment lock.
func (oc *Orchestrator) accumulateFees(ctx context.Context, ord *order.Order, ch *stripe.Charge) {
	if ch.BalanceTransaction == nil || ch.BalanceTransaction.ID == "" {
		return
	}
	bt, err := oc.client.RetrieveBalanceTransaction(ctx, ch.BalanceTransaction.ID)
	if err != nil {
		oc.bookkeepingFailed(ctx, ord, &BookkeepingError{ChargeID: ch.ID, Err: err})
		return
	}

	cur := string(bt.Currency)
	fee := metaFloat(ord, order.MetaFeeTotal) + currency.FromMinorUnits(bt.Fee, cur)
	net := metaFloat(ord, order.MetaNetTotal) + currency.FromMinorUnits(bt.Net, cur)
	ord.SetMeta(order.MetaFeeTotal, formatAmount(fee))
	ord.SetMeta(order.MetaNetTotal, formatAmount(net))

	if err := oc.orders.Save(ctx, ord); err != nil {
		oc.logger.ErrorContext(ctx, "failed to persist fee totals", "order_id", ord.ID, "error", err)
	}
}

// bookkeepingFailed logs a post-capture bookkeeping failure and flags the
// order for operator attention without disturbing the capture result.
func (oc *Orchestrator) bookkeepingFailed(ctx context.Context, ord *order.Order, berr *BookkeepingError) {
	oc.logger.ErrorContext(ctx, "post-capture bookkeeping failed",
		"order_id", ord.ID,
		"charge_id", berr.ChargeID,
		"error", berr.Err)
	if err := oc.machine.PaymentFail(ctx, ord, fmt.Sprintf("Bookkeeping failed after capture: %s", berr.Err)); err != nil {
		oc.logger.ErrorContext(ctx, "failed to flag order after bookkeeping failure",
			"order_id", ord.ID, "error", err)
	}
}

// declineReason builds a customer-facing reason from the charge outcome,
// falling back to a generic message when the processor offers no detail.
func declineReason(outcome *stripe.ChargeOutcome) string {
	if outcome == nil {
		return "The charge was not successful."
	}
	if outcome.SellerMessage != "" {
		return outcome.SellerMessage
	}
	if outcome.RiskLevel != "" {
		return fmt.Sprintf("The charge was declined (risk level: %s).", outcome.RiskLevel)
	}
	if outcome.AdviceCode != "" {
		return fmt.Sprintf("The charge was declined (%s).", outcome.AdviceCode)
	}
	if outcome.Reason != "" {
		return fmt.Sprintf("The charge was declined (%s).", outcome.Reason)
	}
	return "The charge was not successful."
}

func metaFloat(ord *order.Order, key string) float64 {
	raw := ord.GetMeta(key)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
