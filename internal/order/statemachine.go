package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrInvalidTransition is returned when a status change is not permitted
	// from the order's current status.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrUnknownStatus is returned when an order carries a status the state
	// machine does not recognize.
	ErrUnknownStatus = errors.New("unknown order status")
)

// knownStatuses guards against corrupted order rows reaching the machine.
var knownStatuses = map[Status]bool{
	StatusDraft:          true,
	StatusPendingPayment: true,
	StatusProcessing:     true,
	StatusOnHold:         true,
	StatusPaymentFailed:  true,
	StatusPaid:           true,
	StatusRefunded:       true,
	StatusCanceled:       true,
}

// Machine is the single place order status actually changes. Every transition
// appends a note and persists the order; callers never set Status directly.
type Machine struct {
	repo   Repository
	logger *slog.Logger
}

// NewMachine creates a state machine backed by the given repository.
func NewMachine(repo Repository, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{repo: repo, logger: logger}
}

// transition validates the move, applies it, records the note, and saves.
// Re-applying a transition the order has already taken is an idempotent no-op;
// webhook deliveries arrive at least once and in any order.
func (m *Machine) transition(ctx context.Context, o *Order, to Status, from []Status, note string) error {
	if !knownStatuses[o.Status] {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, o.Status)
	}
	if o.Status == to {
		return nil
	}
	allowed := false
	for _, f := range from {
		if o.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	prev := o.Status
	o.Status = to
	if note != "" {
		o.AddNote(note)
	}
	if err := m.repo.Save(ctx, o); err != nil {
		o.Status = prev
		return fmt.Errorf("failed to persist status change: %w", err)
	}

	m.logger.InfoContext(ctx, "order status changed",
		"order_id", o.ID,
		"from", prev,
		"to", to)
	return nil
}

// PaymentInitiate moves the order into processing when an intent id is first
// associated with it.
func (m *Machine) PaymentInitiate(ctx context.Context, o *Order, note string) error {
	return m.transition(ctx, o, StatusProcessing,
		[]Status{StatusDraft, StatusPendingPayment}, note)
}

// ProcessOrder marks the order paid after a succeeded or authorized capture,
// or when payment was determined unnecessary.
func (m *Machine) ProcessOrder(ctx context.Context, o *Order, note string) error {
	return m.transition(ctx, o, StatusPaid,
		[]Status{StatusDraft, StatusPendingPayment, StatusProcessing, StatusOnHold}, note)
}

// HoldOrder parks the order for manual review. An on-hold order only leaves
// that state by later explicit action, never by re-entrant automatic capture.
func (m *Machine) HoldOrder(ctx context.Context, o *Order, note string) error {
	return m.transition(ctx, o, StatusOnHold,
		[]Status{StatusPendingPayment, StatusProcessing}, note)
}

// PaymentFail records a declined charge or failed confirmation.
func (m *Machine) PaymentFail(ctx context.Context, o *Order, note string) error {
	return m.transition(ctx, o, StatusPaymentFailed,
		[]Status{StatusDraft, StatusPendingPayment, StatusProcessing, StatusOnHold}, note)
}

// PaymentConfirm applies a webhook-confirmed success. Already-paid orders are
// unaffected.
func (m *Machine) PaymentConfirm(ctx context.Context, o *Order, note string) error {
	if o.Status == StatusPaid {
		return nil
	}
	return m.transition(ctx, o, StatusPaid,
		[]Status{StatusPendingPayment, StatusProcessing, StatusOnHold, StatusPaymentFailed}, note)
}

// MarkRefunded moves a fully refunded order to its terminal refunded state.
func (m *Machine) MarkRefunded(ctx context.Context, o *Order, note string) error {
	return m.transition(ctx, o, StatusRefunded, []Status{StatusPaid}, note)
}
