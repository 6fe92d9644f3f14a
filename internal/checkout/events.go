package checkout

import "context"

// Event is a typed payment lifecycle event published to registered observers.
type Event interface {
	EventName() string
}

// IntentCreated is published when a payment intent is first associated with
// an order.
type IntentCreated struct {
	OrderID  string
	IntentID string
}

// EventName implements Event.
func (IntentCreated) EventName() string { return "intent_created" }

// PaymentCaptured is published after a successful capture.
type PaymentCaptured struct {
	OrderID  string
	IntentID string
	ChargeID string
	Amount   float64
	Currency string
}

// EventName implements Event.
func (PaymentCaptured) EventName() string { return "payment_captured" }

// PaymentFailed is published when a capture is declined or a payment attempt
// errors.
type PaymentFailed struct {
	OrderID string
	Reason  string
}

// EventName implements Event.
func (PaymentFailed) EventName() string { return "payment_failed" }

// Observer receives payment lifecycle events. Observers are registered at
// orchestrator construction; there is no global dispatch.
type Observer interface {
	HandlePaymentEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, event Event)

// HandlePaymentEvent implements Observer.
func (f ObserverFunc) HandlePaymentEvent(ctx context.Context, event Event) { f(ctx, event) }

// publish delivers an event to every registered observer in order.
func (oc *Orchestrator) publish(ctx context.Context, event Event) {
	for _, obs := range oc.observers {
		obs.HandlePaymentEvent(ctx, event)
	}
}
