package order

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrLocked is returned when a capture or refund lock is already held by
	// a concurrent operation.
	ErrLocked = errors.New("order payment operation already in progress")
)

// LockKind names the advisory lock acquired before mutating money state.
type LockKind string

// Advisory lock kinds.
const (
	LockPayment LockKind = "payment"
	LockRefund  LockKind = "refund"
)

// LockTTL bounds how long a lock can be held. A crashed holder never blocks
// the order for longer than this.
const LockTTL = 5 * time.Minute

// Repository defines methods for order persistence.
type Repository interface {
	Load(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, o *Order) error

	// FindByMeta locates an order by a reconciliation metadata value, e.g.
	// the intent id a webhook event references.
	FindByMeta(ctx context.Context, key, value string) (*Order, error)

	// AcquireLock takes the time-boxed advisory lock for the order, optionally
	// pinned to a specific intent id. A second attempt observing an unexpired
	// lock for the same (or an unspecified) intent returns ErrLocked.
	AcquireLock(ctx context.Context, orderID string, kind LockKind, intentID string) error

	// ReleaseLock releases the advisory lock. Releasing an unheld lock is a
	// no-op.
	ReleaseLock(ctx context.Context, orderID string, kind LockKind) error
}

func lockKeys(kind LockKind) (expiryKey, intentKey string) {
	if kind == LockRefund {
		return metaRefundLockExpiry, metaRefundLockIntent
	}
	return metaPaymentLockExpiry, metaPaymentLockIntent
}

// lockHeld reports whether an unexpired lock on the order conflicts with an
// attempt for intentID. Locks pinned to a different intent do not conflict.
func lockHeld(o *Order, kind LockKind, intentID string, now time.Time) bool {
	expiryKey, intentKey := lockKeys(kind)
	raw := o.GetMeta(expiryKey)
	if raw == "" {
		return false
	}
	expiry, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || now.Unix() >= expiry {
		return false
	}
	pinned := o.GetMeta(intentKey)
	if pinned == "" || intentID == "" {
		return true
	}
	return pinned == intentID
}

func setLock(o *Order, kind LockKind, intentID string, now time.Time) {
	expiryKey, intentKey := lockKeys(kind)
	o.SetMeta(expiryKey, strconv.FormatInt(now.Add(LockTTL).Unix(), 10))
	if intentID != "" {
		o.SetMeta(intentKey, intentID)
	} else {
		o.DeleteMeta(intentKey)
	}
}

func clearLock(o *Order, kind LockKind) {
	expiryKey, intentKey := lockKeys(kind)
	o.DeleteMeta(expiryKey)
	o.DeleteMeta(intentKey)
}

// InMemoryRepository implements Repository with in-memory storage.
// Used for testing and development.
type InMemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

// NewInMemoryRepository creates a new in-memory order repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{orders: make(map[string]*Order)}
}

// Load retrieves an order by ID.
func (r *InMemoryRepository) Load(ctx context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

// Save stores the order, assigning an ID and timestamps on first save.
func (r *InMemoryRepository) Save(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now()
	if o.CreatedAt == nil {
		o.CreatedAt = &now
	}
	o.UpdatedAt = &now

	// Saving must not clobber lock state written by a concurrent AcquireLock:
	// the lock is advisory metadata owned by the repository, not the caller's
	// working copy.
	if stored, ok := r.orders[o.ID]; ok {
		for _, key := range []string{
			metaPaymentLockExpiry, metaPaymentLockIntent,
			metaRefundLockExpiry, metaRefundLockIntent,
		} {
			if v := stored.GetMeta(key); v != "" && o.GetMeta(key) == "" {
				o.SetMeta(key, v)
			}
		}
	}

	r.orders[o.ID] = o.clone()
	return nil
}

// FindByMeta locates the order whose metadata map holds the given value.
func (r *InMemoryRepository) FindByMeta(ctx context.Context, key, value string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.GetMeta(key) == value {
			return o.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// AcquireLock atomically takes the advisory lock via read-modify-write under
// the repository mutex.
func (r *InMemoryRepository) AcquireLock(ctx context.Context, orderID string, kind LockKind, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	if lockHeld(o, kind, intentID, now) {
		return ErrLocked
	}
	setLock(o, kind, intentID, now)
	return nil
}

// ReleaseLock clears the advisory lock.
func (r *InMemoryRepository) ReleaseLock(ctx context.Context, orderID string, kind LockKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	clearLock(o, kind)
	return nil
}
