package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/middleware"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/reconcile"
)

// WebhookHandlers holds dependencies for webhook-related HTTP handlers.
type WebhookHandlers struct {
	webhookSecret string
	webhookRepo   reconcile.WebhookRepository
	reconciler    *reconcile.Reconciler
	orders        order.Repository
	machine       *order.Machine
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(
	webhookSecret string,
	webhookRepo reconcile.WebhookRepository,
	reconciler *reconcile.Reconciler,
	orders order.Repository,
	machine *order.Machine,
) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		webhookRepo:   webhookRepo,
		reconciler:    reconciler,
		orders:        orders,
		machine:       machine,
	}
}

// HandleStripeWebhook processes Stripe webhook events with signature verification.
// POST /internal/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Read the request body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	// Get the Stripe signature from the header
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	// Verify the webhook signature
	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log minimal event info (type and ID only, not full payload)
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	// Check idempotency - has this event already been processed?
	if err := h.webhookRepo.RecordEvent(ctx, event.ID, string(event.Type)); err != nil {
		if errors.Is(err, reconcile.ErrEventAlreadyProcessed) {
			slog.InfoContext(ctx, "webhook event already processed, ignoring", "event_id", event.ID)
			// Return 200 to acknowledge receipt even though we're ignoring it
			w.WriteHeader(http.StatusOK)
			return
		}
		// Other errors recording the event
		slog.ErrorContext(ctx, "failed to record webhook event", "event_id", event.ID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	// Route to appropriate handler based on event type
	switch event.Type {
	case "payment_intent.created":
		h.handleIntentEvent(ctx, event, h.reconciler.OnIntentCreated)
	case "payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.amount_capturable_updated":
		h.handleIntentEvent(ctx, event, h.reconciler.OnConfirmation)
	case "charge.refunded":
		h.handleChargeRefunded(ctx, event)
	default:
		// Unknown event type - log and ignore
		slog.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type, "event_id", event.ID)
	}

	// Always return 200 to acknowledge receipt
	w.WriteHeader(http.StatusOK)
}

// handleIntentEvent looks up the order the intent references and applies the
// given reconciler operation. Events for unknown intents are logged and
// dropped; they usually belong to another system sharing the Stripe account.
func (h *WebhookHandlers) handleIntentEvent(ctx context.Context, event stripe.Event, apply func(context.Context, *order.Order) error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		slog.ErrorContext(ctx, "failed to parse payment intent", "event_id", event.ID, "error", err)
		return
	}

	ord, err := h.orders.FindByMeta(ctx, order.MetaIntentID, intent.ID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			slog.InfoContext(ctx, "no order references intent, ignoring",
				"intent_id", intent.ID, "event_id", event.ID)
			return
		}
		slog.ErrorContext(ctx, "failed to look up order for intent",
			"intent_id", intent.ID, "error", err)
		return
	}

	if err := apply(ctx, ord); err != nil {
		slog.ErrorContext(ctx, "failed to reconcile webhook event",
			"event_id", event.ID, "event_type", event.Type,
			"order_id", ord.ID, "error", err)
	}
}

// handleChargeRefunded records refunds issued from the processor dashboard so
// local order state follows.
func (h *WebhookHandlers) handleChargeRefunded(ctx context.Context, event stripe.Event) {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		slog.ErrorContext(ctx, "failed to parse charge", "event_id", event.ID, "error", err)
		return
	}

	ord, err := h.orders.FindByMeta(ctx, order.MetaChargeID, ch.ID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			slog.InfoContext(ctx, "no order references charge, ignoring",
				"charge_id", ch.ID, "event_id", event.ID)
			return
		}
		slog.ErrorContext(ctx, "failed to look up order for charge",
			"charge_id", ch.ID, "error", err)
		return
	}

	refunded := currency.FromMinorUnits(ch.AmountRefunded, string(ch.Currency))
	ord.SetMeta(order.MetaRefundedTotal, fmt.Sprintf("%.2f", refunded))
	ord.AddNote(fmt.Sprintf("Processor reported %.2f %s refunded on charge %s.",
		refunded, ord.Currency, ch.ID))

	if refunded >= ord.Total && ord.Status == order.StatusPaid {
		if err := h.machine.MarkRefunded(ctx, ord, fmt.Sprintf("Order fully refunded at processor (charge %s).", ch.ID)); err != nil {
			slog.ErrorContext(ctx, "failed to mark order refunded",
				"order_id", ord.ID, "error", err)
		}
		return
	}
	if err := h.orders.Save(ctx, ord); err != nil {
		slog.ErrorContext(ctx, "failed to save refunded order",
			"order_id", ord.ID, "error", err)
	}
}
