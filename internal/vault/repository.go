package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTokenNotFound is returned when a saved token does not exist.
	ErrTokenNotFound = errors.New("payment method token not found")

	// ErrMappingNotFound is returned when a customer has no processor mapping.
	ErrMappingNotFound = errors.New("processor customer mapping not found")
)

// TokenRepository defines methods for saved payment method persistence.
type TokenRepository interface {
	// Upsert saves a token. At most one token exists per (customer,
	// fingerprint) pair: a matching fingerprint updates the existing token
	// instead of creating a duplicate.
	Upsert(ctx context.Context, token *Token) (*Token, error)
	GetByID(ctx context.Context, id string) (*Token, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*Token, error)
	Delete(ctx context.Context, id string) error
}

// MappingRepository defines methods for processor customer mappings.
type MappingRepository interface {
	// Get returns the mapping for a local customer, or ErrMappingNotFound.
	Get(ctx context.Context, userID string) (*Mapping, error)
	// Save persists the mapping. Guest mappings (empty UserID) are ignored.
	Save(ctx context.Context, m *Mapping) error
	Delete(ctx context.Context, userID string) error
}

// InMemoryTokenRepository implements TokenRepository with in-memory storage.
type InMemoryTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

// NewInMemoryTokenRepository creates a new in-memory token repository.
func NewInMemoryTokenRepository() *InMemoryTokenRepository {
	return &InMemoryTokenRepository{tokens: make(map[string]*Token)}
}

// Upsert saves a token, deduplicating on (customer, fingerprint).
func (r *InMemoryTokenRepository) Upsert(ctx context.Context, token *Token) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if token.Fingerprint != "" {
		for _, existing := range r.tokens {
			if existing.CustomerID == token.CustomerID && existing.Fingerprint == token.Fingerprint {
				// Same underlying instrument re-saved, possibly with a new
				// processor method id from a fresh setup intent.
				updated := *token
				updated.ID = existing.ID
				updated.CreatedAt = existing.CreatedAt
				updated.UpdatedAt = &now
				r.tokens[existing.ID] = &updated
				copied := updated
				return &copied, nil
			}
		}
	}

	copied := *token
	if copied.ID == "" {
		copied.ID = uuid.New().String()
	}
	if copied.CreatedAt == nil {
		copied.CreatedAt = &now
	}
	copied.UpdatedAt = &now
	r.tokens[copied.ID] = &copied

	result := copied
	return &result, nil
}

// GetByID retrieves a token by ID.
func (r *InMemoryTokenRepository) GetByID(ctx context.Context, id string) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	copied := *t
	return &copied, nil
}

// ListByCustomer returns all tokens owned by a customer.
func (r *InMemoryTokenRepository) ListByCustomer(ctx context.Context, customerID string) ([]*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Token
	for _, t := range r.tokens {
		if t.CustomerID == customerID {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Delete removes a token.
func (r *InMemoryTokenRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[id]; !ok {
		return ErrTokenNotFound
	}
	delete(r.tokens, id)
	return nil
}

// InMemoryMappingRepository implements MappingRepository with in-memory storage.
type InMemoryMappingRepository struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
}

// NewInMemoryMappingRepository creates a new in-memory mapping repository.
func NewInMemoryMappingRepository() *InMemoryMappingRepository {
	return &InMemoryMappingRepository{mappings: make(map[string]*Mapping)}
}

// Get returns the mapping for a local customer.
func (r *InMemoryMappingRepository) Get(ctx context.Context, userID string) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mappings[userID]
	if !ok {
		return nil, ErrMappingNotFound
	}
	copied := *m
	return &copied, nil
}

// Save persists the mapping. Guest mappings are used transiently during the
// current order only and are never stored.
func (r *InMemoryMappingRepository) Save(ctx context.Context, m *Mapping) error {
	if m.UserID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *m
	r.mappings[m.UserID] = &copied
	return nil
}

// Delete removes a mapping.
func (r *InMemoryMappingRepository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.mappings, userID)
	return nil
}
