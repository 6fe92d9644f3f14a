package reconcile

import (
	"context"
	"errors"
	"testing"
)

// TestWebhookRepository_DuplicateDetection verifies recording the same event
// twice fails the second attempt.
func TestWebhookRepository_DuplicateDetection(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryWebhookRepository()

	if err := repo.RecordEvent(ctx, "evt_1", "payment_intent.succeeded"); err != nil {
		t.Fatalf("first RecordEvent failed: %v", err)
	}
	if err := repo.RecordEvent(ctx, "evt_1", "payment_intent.succeeded"); !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	processed, err := repo.HasProcessed(ctx, "evt_1")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if !processed {
		t.Error("expected evt_1 to be marked processed")
	}

	processed, err = repo.HasProcessed(ctx, "evt_2")
	if err != nil {
		t.Fatalf("HasProcessed failed: %v", err)
	}
	if processed {
		t.Error("evt_2 should not be marked processed")
	}
}

// TestWebhookRepository_DistinctEvents verifies different event ids do not
// collide.
func TestWebhookRepository_DistinctEvents(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryWebhookRepository()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		if err := repo.RecordEvent(ctx, id, "charge.refunded"); err != nil {
			t.Errorf("RecordEvent(%s) failed: %v", id, err)
		}
	}
}
