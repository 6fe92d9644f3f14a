package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fenwick-labs/payflow/internal/order"
)

// fakeRenewalProcessor records the orders it was asked to charge.
type fakeRenewalProcessor struct {
	err       error
	processed []*order.Order
}

func (f *fakeRenewalProcessor) ProcessRenewal(ctx context.Context, ord *order.Order) error {
	f.processed = append(f.processed, ord)
	return f.err
}

func testScheduler(t *testing.T, proc *fakeRenewalProcessor) (*Scheduler, *InMemoryRepository, *order.InMemoryRepository) {
	t.Helper()
	subs := NewInMemoryRepository()
	orders := order.NewInMemoryRepository()
	sched := NewScheduler(SchedulerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, subs, orders, proc)
	return sched, subs, orders
}

func dueSubscription(t *testing.T, subs *InMemoryRepository, orders *order.InMemoryRepository) *Subscription {
	t.Helper()
	ctx := context.Background()

	parent := &order.Order{
		Total:      29.99,
		Currency:   "USD",
		CustomerID: "cust_1",
		Email:      "sub@example.test",
		Status:     order.StatusPaid,
	}
	if err := orders.Save(ctx, parent); err != nil {
		t.Fatalf("failed to save parent order: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	sub := &Subscription{
		CustomerID:          "cust_1",
		Status:              StatusActive,
		ParentOrderID:       parent.ID,
		ProcessorCustomerID: "cus_123",
		ProcessorSourceID:   "pm_456",
		NextRenewal:         &past,
	}
	if err := subs.Save(ctx, sub); err != nil {
		t.Fatalf("failed to save subscription: %v", err)
	}
	return sub
}

// TestScheduler_SweepRenewsDueSubscription verifies a due subscription gets a
// renewal order carrying the parent amounts and the stored payment method,
// and its next renewal advances by the billing cycle.
func TestScheduler_SweepRenewsDueSubscription(t *testing.T) {
	ctx := context.Background()
	proc := &fakeRenewalProcessor{}
	sched, subs, orders := testScheduler(t, proc)
	sub := dueSubscription(t, subs, orders)

	sched.Sweep(ctx)

	if len(proc.processed) != 1 {
		t.Fatalf("expected 1 renewal processed, got %d", len(proc.processed))
	}
	ord := proc.processed[0]
	if ord.Total != 29.99 || ord.Currency != "USD" {
		t.Errorf("renewal order amounts = %v %s, want 29.99 USD", ord.Total, ord.Currency)
	}
	if ord.Status != order.StatusPendingPayment {
		t.Errorf("renewal order status = %s, want pending_payment", ord.Status)
	}
	if ord.GetMeta(order.MetaProcessorCustomer) != "cus_123" {
		t.Errorf("processor customer = %q, want cus_123", ord.GetMeta(order.MetaProcessorCustomer))
	}
	if ord.GetMeta(order.MetaProcessorSource) != "pm_456" {
		t.Errorf("processor source = %q, want pm_456", ord.GetMeta(order.MetaProcessorSource))
	}

	updated, err := subs.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != StatusActive {
		t.Errorf("status = %s, want active", updated.Status)
	}
	if len(updated.RenewalOrderIDs) != 1 || updated.RenewalOrderIDs[0] != ord.ID {
		t.Errorf("renewal order not linked: %v", updated.RenewalOrderIDs)
	}
	wantNext := time.Now().AddDate(0, 0, DefaultPeriodDays)
	if updated.NextRenewal == nil || updated.NextRenewal.Sub(wantNext).Abs() > time.Minute {
		t.Errorf("next renewal = %v, want about %v", updated.NextRenewal, wantNext)
	}
}

// TestScheduler_FailedRenewalMarksPastDue verifies a declined renewal charge
// moves the subscription to past_due so the next sweep retries it.
func TestScheduler_FailedRenewalMarksPastDue(t *testing.T) {
	ctx := context.Background()
	proc := &fakeRenewalProcessor{err: errors.New("card declined")}
	sched, subs, orders := testScheduler(t, proc)
	sub := dueSubscription(t, subs, orders)

	sched.Sweep(ctx)

	updated, err := subs.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != StatusPastDue {
		t.Errorf("status = %s, want past_due", updated.Status)
	}

	// Still due, so the next sweep picks it up again.
	due, err := subs.ListDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected failed subscription to stay due, got %d", len(due))
	}
}

// TestScheduler_MissingPaymentMethodMarksPastDue verifies a subscription with
// no stored payment method cannot renew and is marked past_due without
// reaching the processor.
func TestScheduler_MissingPaymentMethodMarksPastDue(t *testing.T) {
	ctx := context.Background()
	proc := &fakeRenewalProcessor{}
	sched, subs, orders := testScheduler(t, proc)
	sub := dueSubscription(t, subs, orders)
	sub.ProcessorSourceID = ""
	if err := subs.Save(ctx, sub); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sched.Sweep(ctx)

	if len(proc.processed) != 0 {
		t.Errorf("processor should not be called without a payment method")
	}
	updated, err := subs.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != StatusPastDue {
		t.Errorf("status = %s, want past_due", updated.Status)
	}
}

// TestScheduler_CustomPeriod verifies a subscription's own billing cycle
// overrides the default.
func TestScheduler_CustomPeriod(t *testing.T) {
	ctx := context.Background()
	proc := &fakeRenewalProcessor{}
	sched, subs, orders := testScheduler(t, proc)
	sub := dueSubscription(t, subs, orders)
	sub.PeriodDays = 7
	if err := subs.Save(ctx, sub); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sched.Sweep(ctx)

	updated, err := subs.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	wantNext := time.Now().AddDate(0, 0, 7)
	if updated.NextRenewal == nil || updated.NextRenewal.Sub(wantNext).Abs() > time.Minute {
		t.Errorf("next renewal = %v, want about %v", updated.NextRenewal, wantNext)
	}
}

// TestScheduler_StartStop verifies the background loop starts and stops
// cleanly and double Start/Stop are safe.
func TestScheduler_StartStop(t *testing.T) {
	proc := &fakeRenewalProcessor{}
	sched, _, _ := testScheduler(t, proc)

	ctx := context.Background()
	sched.Start(ctx)
	sched.Start(ctx) // no-op
	sched.Stop()
	sched.Stop() // no-op
}
