package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEventAlreadyProcessed is returned when attempting to record a duplicate
// webhook event.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// WebhookEvent records a processed webhook event for idempotency tracking.
type WebhookEvent struct {
	ID          string
	EventID     string // processor event id
	EventType   string
	ProcessedAt time.Time
}

// WebhookRepository tracks processed webhook events so at-least-once
// delivery collapses to exactly-once handling.
type WebhookRepository interface {
	// RecordEvent marks an event as processed. Returns
	// ErrEventAlreadyProcessed when it was recorded before.
	RecordEvent(ctx context.Context, eventID, eventType string) error

	// HasProcessed checks whether an event was already recorded.
	HasProcessed(ctx context.Context, eventID string) (bool, error)
}

// InMemoryWebhookRepository implements WebhookRepository with in-memory
// storage.
type InMemoryWebhookRepository struct {
	mu     sync.RWMutex
	events map[string]*WebhookEvent
}

// NewInMemoryWebhookRepository creates a new in-memory webhook repository.
func NewInMemoryWebhookRepository() *InMemoryWebhookRepository {
	return &InMemoryWebhookRepository{events: make(map[string]*WebhookEvent)}
}

// RecordEvent marks an event as processed.
func (r *InMemoryWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}
	r.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}

// HasProcessed checks whether an event was already recorded.
func (r *InMemoryWebhookRepository) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.events[eventID]
	return exists, nil
}

// RedisWebhookRepository implements WebhookRepository on Redis so multiple
// instances share the dedup set. Keys expire after the retention window;
// the processor stops retrying well before then.
type RedisWebhookRepository struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisWebhookRepository creates a Redis-backed webhook repository.
func NewRedisWebhookRepository(client *redis.Client, retention time.Duration) *RedisWebhookRepository {
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &RedisWebhookRepository{client: client, retention: retention}
}

func webhookKey(eventID string) string {
	return "payflow:webhook:" + eventID
}

// RecordEvent marks an event as processed using SETNX for atomicity.
func (r *RedisWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	ok, err := r.client.SetNX(ctx, webhookKey(eventID), eventType, r.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrEventAlreadyProcessed
	}
	return nil
}

// HasProcessed checks whether an event was already recorded.
func (r *RedisWebhookRepository) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, webhookKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
