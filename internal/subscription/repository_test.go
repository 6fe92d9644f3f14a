package subscription

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestRepository_SaveAndGet verifies basic persistence with assigned identity.
func TestRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	s := &Subscription{CustomerID: "cust_1", Status: StatusActive, ParentOrderID: "ord_1"}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.ID == "" {
		t.Error("expected ID to be assigned")
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ParentOrderID != "ord_1" {
		t.Errorf("ParentOrderID = %s, want ord_1", got.ParentOrderID)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRepository_ListForOrder verifies linkage lookup covers both parent and
// renewal orders.
func TestRepository_ListForOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	s := &Subscription{
		CustomerID:      "cust_1",
		Status:          StatusActive,
		ParentOrderID:   "ord_parent",
		RenewalOrderIDs: []string{"ord_renewal_1"},
	}
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, orderID := range []string{"ord_parent", "ord_renewal_1"} {
		subs, err := repo.ListForOrder(ctx, orderID)
		if err != nil {
			t.Fatalf("ListForOrder(%s) failed: %v", orderID, err)
		}
		if len(subs) != 1 {
			t.Errorf("ListForOrder(%s) returned %d subscriptions, want 1", orderID, len(subs))
		}
	}

	subs, err := repo.ListForOrder(ctx, "ord_unrelated")
	if err != nil {
		t.Fatalf("ListForOrder failed: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions for unrelated order, got %d", len(subs))
	}
}

// TestRepository_ListDue verifies due selection skips canceled subscriptions
// and those with no renewal date.
func TestRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := &Subscription{Status: StatusActive, NextRenewal: &past}
	pastDue := &Subscription{Status: StatusPastDue, NextRenewal: &past}
	notYet := &Subscription{Status: StatusActive, NextRenewal: &future}
	canceled := &Subscription{Status: StatusCanceled, NextRenewal: &past}
	noDate := &Subscription{Status: StatusActive}

	for _, s := range []*Subscription{due, pastDue, notYet, canceled, noDate} {
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	got, err := repo.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due subscriptions, got %d", len(got))
	}
	for _, s := range got {
		if s.ID != due.ID && s.ID != pastDue.ID {
			t.Errorf("unexpected subscription in due list: %s (status %s)", s.ID, s.Status)
		}
	}
}
