package checkout

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
	"github.com/fenwick-labs/payflow/internal/vault"
)

// CreateIntentForOrder creates a payment intent for an order ahead of
// checkout submission, or updates the amount of the intent already on the
// order. The client confirms it before calling ProcessPayment.
func (oc *Orchestrator) CreateIntentForOrder(ctx context.Context, ord *order.Order) (*stripe.PaymentIntent, error) {
	minor := currencyMinor(ord)
	if minor <= 0 {
		return nil, validationf("order %s requires no payment; no intent needed", ord.ID)
	}

	if existing := ord.GetMeta(order.MetaIntentID); existing != "" {
		intent, err := oc.client.UpdateIntentAmount(ctx, existing, minor)
		if err == nil {
			return intent, nil
		}
		oc.logger.WarnContext(ctx, "failed to update existing intent, creating a new one",
			"order_id", ord.ID, "intent_id", existing, "error", err)
	}

	intent, err := oc.client.CreateIntent(ctx, processor.CreateIntentParams{
		AmountMinor: minor,
		Currency:    ord.Currency,
		Description: fmt.Sprintf("Order %s", ord.ID),
		Metadata:    map[string]string{"order_id": ord.ID},
	})
	if err != nil {
		return nil, err
	}

	ord.SetMeta(order.MetaGateway, oc.opts.GatewayID)
	ord.SetMeta(order.MetaIntentID, intent.ID)
	if err := oc.orders.Save(ctx, ord); err != nil {
		return nil, fmt.Errorf("failed to persist intent id: %w", err)
	}
	oc.publish(ctx, IntentCreated{OrderID: ord.ID, IntentID: intent.ID})
	return intent, nil
}

// CreateSetupIntent starts the save-a-card-without-charging flow for a
// registered customer.
func (oc *Orchestrator) CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error) {
	if customerID == "" {
		return nil, validationf("a registered customer is required to save a payment method")
	}

	procCustomer := ""
	if m, err := oc.mappings.Get(ctx, customerID); err == nil {
		procCustomer = m.ProcessorCustomerID
	}
	if procCustomer == "" {
		id, err := oc.client.CreateCustomer(ctx, processor.BillingProfile{})
		if err != nil {
			return nil, err
		}
		procCustomer = id
		if err := oc.mappings.Save(ctx, &vault.Mapping{UserID: customerID, ProcessorCustomerID: id}); err != nil {
			oc.logger.ErrorContext(ctx, "failed to save customer mapping",
				"customer_id", customerID, "error", err)
		}
	}

	return oc.client.CreateSetupIntent(ctx, procCustomer, "off_session")
}

// FinalizeSetupIntent turns a succeeded setup intent into a saved token.
// Re-saving the same card updates the existing token via fingerprint dedup.
func (oc *Orchestrator) FinalizeSetupIntent(ctx context.Context, customerID, setupIntentID string) (*vault.Token, error) {
	if customerID == "" {
		return nil, validationf("a registered customer is required to save a payment method")
	}
	si, err := oc.client.RetrieveSetupIntent(ctx, setupIntentID)
	if err != nil {
		return nil, err
	}
	if si.Status != stripe.SetupIntentStatusSucceeded {
		return nil, validationf("setup intent %s has not succeeded (status %s)", si.ID, si.Status)
	}
	if si.PaymentMethod == nil || si.PaymentMethod.ID == "" {
		return nil, validationf("setup intent %s carries no payment method", si.ID)
	}

	pm, err := oc.client.RetrievePaymentMethod(ctx, si.PaymentMethod.ID)
	if err != nil {
		return nil, err
	}
	if !reusable(pm) {
		return nil, validationf("payment method type %s cannot be saved for reuse", pm.Type)
	}
	return oc.saveToken(ctx, customerID, pm)
}

// DeleteToken detaches the payment method at the processor and removes the
// local token.
func (oc *Orchestrator) DeleteToken(ctx context.Context, customerID, tokenID string) error {
	token, err := oc.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if token.CustomerID != customerID {
		return validationf("payment method %s does not belong to this customer", tokenID)
	}
	if err := oc.client.DetachPaymentMethod(ctx, token.MethodID); err != nil {
		return err
	}
	return oc.tokens.Delete(ctx, tokenID)
}

func currencyMinor(ord *order.Order) int64 {
	return currency.ToMinorUnits(ord.Total, ord.Currency)
}
