package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository against a relational store.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres payment repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, stream_id, user_id, amount_cents, currency, status,
	provider, reference, failure_reason, created_at, completed_at`

// CreatePending inserts a provisional payment record.
func (r *PostgresRepository) CreatePending(ctx context.Context, p *StreamPayment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = StatusPending

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stream_payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.StreamID, p.UserID, p.AmountCents, p.Currency, p.Status,
		p.Provider, p.Reference, nullStr(p.FailureReason), p.CreatedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*StreamPayment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM stream_payments WHERE id = $1`, id)
	return scanPayment(row)
}

// GetByReference retrieves a payment by provider reference.
func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (*StreamPayment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM stream_payments WHERE reference = $1`, reference)
	return scanPayment(row)
}

// MarkCompleted transitions the payment to completed. The status predicate
// keeps the transition idempotent under webhook replays.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, reference string, at time.Time) (*StreamPayment, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stream_payments SET status = 'completed', completed_at = $2
		 WHERE reference = $1 AND status = 'pending'`, reference, at)
	if err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	p, err := r.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusFailed {
		return nil, ErrPaymentTerminal
	}
	return p, nil
}

// MarkFailed transitions the payment to failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, reference, reason string) (*StreamPayment, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stream_payments SET status = 'failed', failure_reason = $2
		 WHERE reference = $1 AND status = 'pending'`, reference, nullStr(reason))
	if err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}

	p, err := r.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		return nil, ErrPaymentTerminal
	}
	return p, nil
}

// HasCompletedPayment reports whether the user holds a completed payment
// for the stream.
func (r *PostgresRepository) HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM stream_payments
		   WHERE stream_id = $1 AND user_id = $2 AND status = 'completed'
		 )`, streamID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query completed payment: %w", err)
	}
	return exists, nil
}

// PostgresWebhookRepository implements WebhookRepository against a
// relational store. The unique constraint on event_id makes duplicate
// recording race-safe.
type PostgresWebhookRepository struct {
	db *sql.DB
}

// NewPostgresWebhookRepository creates a Postgres webhook repository.
func NewPostgresWebhookRepository(db *sql.DB) *PostgresWebhookRepository {
	return &PostgresWebhookRepository{db: db}
}

// RecordEvent records a webhook event as processed.
func (r *PostgresWebhookRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, processed_at)
		 VALUES ($1, $2, $3, NOW())`,
		uuid.New().String(), eventID, eventType)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// HasProcessed checks if an event has already been processed.
func (r *PostgresWebhookRepository) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`,
		eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query webhook event: %w", err)
	}
	return exists, nil
}

func scanPayment(row *sql.Row) (*StreamPayment, error) {
	var (
		p      StreamPayment
		reason sql.NullString
	)
	err := row.Scan(&p.ID, &p.StreamID, &p.UserID, &p.AmountCents, &p.Currency,
		&p.Status, &p.Provider, &p.Reference, &reason, &p.CreatedAt, &p.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	p.FailureReason = reason.String
	return &p, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
