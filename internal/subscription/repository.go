package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("subscription not found")

// Repository defines methods for subscription persistence and linkage lookup.
type Repository interface {
	Save(ctx context.Context, s *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// ListForOrder returns subscriptions created by or renewing into the
	// given order.
	ListForOrder(ctx context.Context, orderID string) ([]*Subscription, error)

	// ListDue returns active subscriptions whose next renewal is at or
	// before now.
	ListDue(ctx context.Context, now time.Time) ([]*Subscription, error)
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewInMemoryRepository creates a new in-memory subscription repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{subs: make(map[string]*Subscription)}
}

func cloneSub(s *Subscription) *Subscription {
	copied := *s
	if s.RenewalOrderIDs != nil {
		copied.RenewalOrderIDs = make([]string, len(s.RenewalOrderIDs))
		copy(copied.RenewalOrderIDs, s.RenewalOrderIDs)
	}
	return &copied
}

// Save stores the subscription, assigning an ID and timestamps on first save.
func (r *InMemoryRepository) Save(ctx context.Context, s *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	if s.CreatedAt == nil {
		s.CreatedAt = &now
	}
	s.UpdatedAt = &now

	r.subs[s.ID] = cloneSub(s)
	return nil
}

// GetByID retrieves a subscription by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSub(s), nil
}

// ListForOrder returns subscriptions linked to the order.
func (r *InMemoryRepository) ListForOrder(ctx context.Context, orderID string) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, s := range r.subs {
		if s.LinkedTo(orderID) {
			out = append(out, cloneSub(s))
		}
	}
	return out, nil
}

// ListDue returns active or trial subscriptions due for renewal.
func (r *InMemoryRepository) ListDue(ctx context.Context, now time.Time) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, s := range r.subs {
		if s.Status == StatusCanceled || s.NextRenewal == nil {
			continue
		}
		if !s.NextRenewal.After(now) {
			out = append(out, cloneSub(s))
		}
	}
	return out, nil
}
