package idempotency

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository against a relational store.
// The primary key on the key column makes duplicate stores race-safe.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres idempotency key repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves an idempotency key by its key value.
func (r *PostgresRepository) Get(key string) (*IdempotencyKey, error) {
	var (
		record    IdempotencyKey
		paymentID sql.NullString
	)
	err := r.db.QueryRow(
		`SELECT key, method, route, created_at, payment_id, response_hash,
		        status, response_body, response_status_code
		 FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&record.Key, &record.Method, &record.Route, &record.CreatedAt,
		&paymentID, &record.ResponseHash, &record.Status,
		&record.ResponseBody, &record.ResponseStatusCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query idempotency key: %w", err)
	}
	if paymentID.Valid {
		record.PaymentID = &paymentID.String
	}
	return &record, nil
}

// Store saves a new idempotency key.
func (r *PostgresRepository) Store(record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var paymentID sql.NullString
	if record.PaymentID != nil {
		paymentID = sql.NullString{String: *record.PaymentID, Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT INTO idempotency_keys
		   (key, method, route, created_at, payment_id, response_hash,
		    status, response_body, response_status_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.Key, record.Method, record.Route, createdAt, paymentID,
		record.ResponseHash, record.Status, record.ResponseBody,
		record.ResponseStatusCode)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrKeyExists
		}
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// DeleteOlderThan removes idempotency keys older than the specified duration.
func (r *PostgresRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM idempotency_keys WHERE created_at < $1`,
		time.Now().Add(-duration))
	if err != nil {
		return 0, fmt.Errorf("delete idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
