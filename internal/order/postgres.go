package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
)

// PostgresRepository implements Repository using PostgreSQL with transactional
// writes across the orders, order_meta, and order_notes tables.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Load retrieves an order with its metadata and notes.
func (r *PostgresRepository) Load(ctx context.Context, id string) (*Order, error) {
	o := &Order{Meta: make(map[string]string)}
	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT id, total, currency, customer_id, email, name, status, created_at, updated_at
		FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Total, &o.Currency, &o.CustomerID, &o.Email, &o.Name, &o.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	o.CreatedAt = &createdAt
	o.UpdatedAt = &updatedAt

	if err := r.loadMeta(ctx, o); err != nil {
		return nil, err
	}
	if err := r.loadNotes(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) loadMeta(ctx context.Context, o *Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("failed to scan order meta: %w", err)
		}
		o.Meta[k] = v
	}
	return rows.Err()
}

func (r *PostgresRepository) loadNotes(ctx context.Context, o *Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT created_at, body FROM order_notes WHERE order_id = $1 ORDER BY created_at`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to load order notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.At, &n.Text); err != nil {
			return fmt.Errorf("failed to scan order note: %w", err)
		}
		o.Notes = append(o.Notes, n)
	}
	return rows.Err()
}

// Save upserts the order row and rewrites metadata and notes in one
// transaction so a partial write never leaves reconciliation state torn.
func (r *PostgresRepository) Save(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now()
	if o.CreatedAt == nil {
		o.CreatedAt = &now
	}
	o.UpdatedAt = &now

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op after a successful commit.
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, total, currency, customer_id, email, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			customer_id = EXCLUDED.customer_id,
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		o.ID, o.Total, o.Currency, o.CustomerID, o.Email, o.Name, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}

	// Lock metadata is owned by AcquireLock/ReleaseLock; preserve whatever is
	// stored rather than what the caller's working copy carries.
	lockKeysAll := []string{
		metaPaymentLockExpiry, metaPaymentLockIntent,
		metaRefundLockExpiry, metaRefundLockIntent,
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM order_meta WHERE order_id = $1
		AND meta_key NOT IN ($2, $3, $4, $5)`,
		o.ID, lockKeysAll[0], lockKeysAll[1], lockKeysAll[2], lockKeysAll[3])
	if err != nil {
		return fmt.Errorf("failed to clear order meta: %w", err)
	}
	for k, v := range o.Meta {
		skip := false
		for _, lk := range lockKeysAll {
			if k == lk {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_meta (order_id, meta_key, meta_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
			o.ID, k, v)
		if err != nil {
			return fmt.Errorf("failed to upsert order meta %q: %w", k, err)
		}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_notes WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to clear order notes: %w", err)
	}
	for _, n := range o.Notes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_notes (order_id, created_at, body) VALUES ($1, $2, $3)`,
			o.ID, n.At, n.Text)
		if err != nil {
			return fmt.Errorf("failed to insert order note: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order save: %w", err)
	}
	return nil
}

// FindByMeta locates an order by a reconciliation metadata value.
func (r *PostgresRepository) FindByMeta(ctx context.Context, key, value string) (*Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT order_id FROM order_meta WHERE meta_key = $1 AND meta_value = $2 LIMIT 1`,
		key, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by meta: %w", err)
	}
	return r.Load(ctx, id)
}

// AcquireLock takes the advisory lock. Acquirers serialize on a row lock of
// the parent order row; locking the lock-metadata row itself is not enough,
// since in the common case that row does not exist yet and FOR UPDATE on an
// empty result set locks nothing, letting two acquirers race past the check.
func (r *PostgresRepository) AcquireLock(ctx context.Context, orderID string, kind LockKind, intentID string) error {
	expiryKey, intentKey := lockKeys(kind)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock order row: %w", err)
	}

	// Safe to read without FOR UPDATE: the order row lock above is held until
	// commit, so no other acquirer can be between its read and its write.
	now := time.Now()
	var expiryRaw, pinned string
	err = tx.QueryRowContext(ctx, `
		SELECT meta_value, COALESCE((
			SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $3
		), '')
		FROM order_meta WHERE order_id = $1 AND meta_key = $2`,
		orderID, expiryKey, intentKey).Scan(&expiryRaw, &pinned)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if err == nil && expiryRaw != "" {
		expiry, parseErr := strconv.ParseInt(expiryRaw, 10, 64)
		if parseErr == nil && now.Unix() < expiry {
			if pinned == "" || intentID == "" || pinned == intentID {
				return ErrLocked
			}
		}
	}

	newExpiry := strconv.FormatInt(now.Add(LockTTL).Unix(), 10)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)
		ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		orderID, expiryKey, newExpiry)
	if err != nil {
		return fmt.Errorf("failed to write lock expiry: %w", err)
	}
	if intentID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)
			ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
			orderID, intentKey, intentID)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM order_meta WHERE order_id = $1 AND meta_key = $2`, orderID, intentKey)
	}
	if err != nil {
		return fmt.Errorf("failed to write lock pin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lock: %w", err)
	}
	return nil
}

// ReleaseLock clears the advisory lock.
func (r *PostgresRepository) ReleaseLock(ctx context.Context, orderID string, kind LockKind) error {
	expiryKey, intentKey := lockKeys(kind)
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM order_meta WHERE order_id = $1 AND meta_key IN ($2, $3)`,
		orderID, expiryKey, intentKey)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
