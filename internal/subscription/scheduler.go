package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/payflow/internal/order"
)

// RenewalProcessor charges a renewal order. Implemented by the checkout
// orchestrator.
type RenewalProcessor interface {
	ProcessRenewal(ctx context.Context, ord *order.Order) error
}

// SchedulerConfig configures the renewal scheduler.
type SchedulerConfig struct {
	// Interval is the duration between due-subscription sweeps.
	Interval time.Duration
	// Timeout bounds a single sweep.
	Timeout time.Duration
	// DefaultPeriodDays is the billing cycle applied when a subscription
	// does not carry its own.
	DefaultPeriodDays int
	// Logger for scheduler activity.
	Logger *slog.Logger
}

// DefaultSweepInterval is the default interval between renewal sweeps.
const DefaultSweepInterval = time.Hour

// DefaultSweepTimeout is the default timeout for a single sweep.
const DefaultSweepTimeout = 10 * time.Minute

// DefaultPeriodDays is the default billing cycle length.
const DefaultPeriodDays = 30

// Scheduler periodically finds subscriptions whose renewal date has passed,
// generates a renewal order for each, and hands it to the processor. Retry
// policy lives here, not in the processor: a failed renewal marks the
// subscription past_due and the next sweep picks it up again.
type Scheduler struct {
	config    SchedulerConfig
	subs      Repository
	orders    order.Repository
	processor RenewalProcessor

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a renewal scheduler.
func NewScheduler(config SchedulerConfig, subs Repository, orders order.Repository, processor RenewalProcessor) *Scheduler {
	if config.Interval == 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultSweepTimeout
	}
	if config.DefaultPeriodDays == 0 {
		config.DefaultPeriodDays = DefaultPeriodDays
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		config:    config,
		subs:      subs,
		orders:    orders,
		processor: processor,
	}
}

// Start begins the periodic sweep. Returns immediately; the scheduler runs
// in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the scheduler to stop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("renewal scheduler stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("renewal scheduler stopping due to stop signal")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep processes every subscription due at the time of the call. Exported
// so an admin endpoint or test can trigger a cycle directly.
func (s *Scheduler) Sweep(parentCtx context.Context) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()

	now := time.Now()
	due, err := s.subs.ListDue(ctx, now)
	if err != nil {
		s.config.Logger.ErrorContext(ctx, "failed to list due subscriptions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.config.Logger.InfoContext(ctx, "processing due subscriptions", "count", len(due))
	for _, sub := range due {
		select {
		case <-ctx.Done():
			s.config.Logger.ErrorContext(ctx, "renewal sweep timeout exceeded",
				"remaining", len(due))
			return
		default:
		}
		if err := s.renew(ctx, sub, now); err != nil {
			s.config.Logger.ErrorContext(ctx, "subscription renewal failed",
				"subscription_id", sub.ID, "error", err)
		}
	}
}

// renew generates and charges one renewal order. The subscription is updated
// regardless of outcome so a broken subscription cannot wedge the sweep.
func (s *Scheduler) renew(ctx context.Context, sub *Subscription, now time.Time) error {
	ord, err := s.renewalOrder(ctx, sub)
	if err != nil {
		s.markPastDue(ctx, sub)
		return err
	}
	if err := s.orders.Save(ctx, ord); err != nil {
		s.markPastDue(ctx, sub)
		return fmt.Errorf("failed to persist renewal order: %w", err)
	}

	sub.RenewalOrderIDs = append(sub.RenewalOrderIDs, ord.ID)

	if err := s.processor.ProcessRenewal(ctx, ord); err != nil {
		s.markPastDue(ctx, sub)
		return err
	}

	period := sub.PeriodDays
	if period <= 0 {
		period = s.config.DefaultPeriodDays
	}
	next := now.AddDate(0, 0, period)
	sub.NextRenewal = &next
	sub.Status = StatusActive
	if err := s.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to persist renewed subscription: %w", err)
	}
	s.config.Logger.InfoContext(ctx, "subscription renewed",
		"subscription_id", sub.ID, "order_id", ord.ID, "next_renewal", next)
	return nil
}

// renewalOrder builds a pending order for the next billing cycle from the
// parent order, carrying the stored processor customer and payment method.
func (s *Scheduler) renewalOrder(ctx context.Context, sub *Subscription) (*order.Order, error) {
	parent, err := s.orders.Load(ctx, sub.ParentOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent order %s: %w", sub.ParentOrderID, err)
	}
	if sub.ProcessorCustomerID == "" || sub.ProcessorSourceID == "" {
		return nil, fmt.Errorf("subscription %s has no stored payment method", sub.ID)
	}

	now := time.Now()
	ord := &order.Order{
		ID:         uuid.New().String(),
		Total:      parent.Total,
		Currency:   parent.Currency,
		CustomerID: parent.CustomerID,
		Email:      parent.Email,
		Name:       parent.Name,
		Status:     order.StatusPendingPayment,
		CreatedAt:  &now,
	}
	ord.SetMeta(order.MetaProcessorCustomer, sub.ProcessorCustomerID)
	ord.SetMeta(order.MetaProcessorSource, sub.ProcessorSourceID)
	ord.AddNote(fmt.Sprintf("Renewal order for subscription %s.", sub.ID))
	return ord, nil
}

func (s *Scheduler) markPastDue(ctx context.Context, sub *Subscription) {
	sub.Status = StatusPastDue
	if err := s.subs.Save(ctx, sub); err != nil {
		s.config.Logger.ErrorContext(ctx, "failed to mark subscription past_due",
			"subscription_id", sub.ID, "error", err)
	}
}
