package checkout

import (
	"context"
	"fmt"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/order"
)

// Refund issues a refund against the order's recorded charge under the
// refund lock. A fully refunded order moves to its terminal refunded state.
func (oc *Orchestrator) Refund(ctx context.Context, ord *order.Order, amount float64) error {
	if ord.Status != order.StatusPaid {
		return validationf("order %s is not paid; nothing to refund", ord.ID)
	}
	if amount <= 0 || amount > ord.Total {
		return validationf("refund amount %.2f is out of range for order total %.2f", amount, ord.Total)
	}
	chargeID := ord.GetMeta(order.MetaChargeID)
	if chargeID == "" {
		return validationf("order %s has no recorded charge to refund", ord.ID)
	}

	if err := oc.orders.AcquireLock(ctx, ord.ID, order.LockRefund, ord.GetMeta(order.MetaIntentID)); err != nil {
		return err
	}
	defer func() {
		if rerr := oc.orders.ReleaseLock(ctx, ord.ID, order.LockRefund); rerr != nil {
			oc.logger.WarnContext(ctx, "failed to release refund lock",
				"order_id", ord.ID, "error", rerr)
		}
	}()

	ref, err := oc.client.Refund(ctx, chargeID, currency.ToMinorUnits(amount, ord.Currency))
	if err != nil {
		return err
	}

	refunded := metaFloat(ord, order.MetaRefundedTotal) + amount
	ord.SetMeta(order.MetaRefundedTotal, formatAmount(refunded))
	ord.AddNote(fmt.Sprintf("Refunded %.2f %s (refund %s).", amount, ord.Currency, ref.ID))

	if refunded >= ord.Total {
		return oc.machine.MarkRefunded(ctx, ord, fmt.Sprintf("Order fully refunded (charge %s).", chargeID))
	}
	return oc.orders.Save(ctx, ord)
}
