package order

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// TestInMemoryRepository_SaveAssignsIdentity verifies first save assigns an
// ID and timestamps.
func TestInMemoryRepository_SaveAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	o := &Order{Total: 25.00, Currency: "USD", Status: StatusDraft}
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if o.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if o.CreatedAt == nil || o.UpdatedAt == nil {
		t.Error("expected timestamps to be assigned")
	}
}

// TestInMemoryRepository_LoadReturnsClone verifies mutating a loaded order
// does not leak into the store.
func TestInMemoryRepository_LoadReturnsClone(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	o := &Order{Status: StatusDraft}
	o.SetMeta("intent_id", "pi_1")
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := repo.Load(ctx, o.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded.Status = StatusPaid
	loaded.SetMeta("intent_id", "pi_tampered")

	again, err := repo.Load(ctx, o.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if again.Status != StatusDraft {
		t.Errorf("store mutated through loaded copy: status = %s", again.Status)
	}
	if again.GetMeta("intent_id") != "pi_1" {
		t.Errorf("store meta mutated through loaded copy: %q", again.GetMeta("intent_id"))
	}
}

// TestInMemoryRepository_LoadMissing verifies ErrNotFound for unknown ids.
func TestInMemoryRepository_LoadMissing(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestInMemoryRepository_FindByMeta verifies lookup by reconciliation
// metadata, the path webhook events take.
func TestInMemoryRepository_FindByMeta(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	o := &Order{Status: StatusProcessing}
	o.SetMeta(MetaIntentID, "pi_find_me")
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := repo.FindByMeta(ctx, MetaIntentID, "pi_find_me")
	if err != nil {
		t.Fatalf("FindByMeta failed: %v", err)
	}
	if found.ID != o.ID {
		t.Errorf("found order %s, want %s", found.ID, o.ID)
	}

	if _, err := repo.FindByMeta(ctx, MetaIntentID, "pi_unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown intent, got %v", err)
	}
}

// TestInMemoryRepository_LockConflict verifies a second lock attempt on the
// same order fails while the first is held, and succeeds after release.
func TestInMemoryRepository_LockConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	o := &Order{Status: StatusProcessing}
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	// Refund and payment locks are independent.
	if err := repo.AcquireLock(ctx, o.ID, LockRefund, ""); err != nil {
		t.Errorf("refund lock should not conflict with payment lock: %v", err)
	}

	if err := repo.ReleaseLock(ctx, o.ID, LockPayment); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); err != nil {
		t.Errorf("AcquireLock after release failed: %v", err)
	}
}

// TestInMemoryRepository_LockIntentPin verifies a lock pinned to one intent
// does not block work on a different intent, but does block a retry of the
// same intent and any unpinned attempt.
func TestInMemoryRepository_LockIntentPin(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	o := &Order{Status: StatusProcessing}
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, "pi_a"); err != nil {
		t.Fatalf("AcquireLock pi_a failed: %v", err)
	}
	if err := repo.AcquireLock(ctx, o.ID, LockPayment, "pi_a"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for same intent, got %v", err)
	}
	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for unpinned attempt, got %v", err)
	}
	if err := repo.AcquireLock(ctx, o.ID, LockPayment, "pi_b"); err != nil {
		t.Errorf("different intent should not conflict: %v", err)
	}
}

// TestInMemoryRepository_LockExpiry verifies an expired lock can be
// re-acquired.
func TestInMemoryRepository_LockExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	o := &Order{Status: StatusProcessing}
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	// Backdate the expiry past the TTL.
	repo.mu.Lock()
	stored := repo.orders[o.ID]
	stored.SetMeta(metaPaymentLockExpiry, strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10))
	repo.mu.Unlock()

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, ""); err != nil {
		t.Errorf("expected expired lock to be re-acquirable, got %v", err)
	}
}

// TestInMemoryRepository_SavePreservesLockMeta verifies a Save from a caller
// holding a stale working copy does not wipe the advisory lock.
func TestInMemoryRepository_SavePreservesLockMeta(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	o := &Order{Status: StatusProcessing}
	if err := repo.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Working copy taken before the lock exists.
	stale, err := repo.Load(ctx, o.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, "pi_x"); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	stale.AddNote("stale save")
	if err := repo.Save(ctx, stale); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.AcquireLock(ctx, o.ID, LockPayment, "pi_x"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected lock to survive a stale Save, got %v", err)
	}
}
