// Package call provides the Postgres-backed call repository.
package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository against a relational store.
// Transition wraps every multi-row state change in a transaction with
// SELECT ... FOR UPDATE on the call row, so aggregate re-checks ("joined
// count <= 1", "all rejected") read a consistent image.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres call repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const callColumns = `id, conversation_id, initiator_id, call_type, status, channel_name,
	started_at, connected_at, ended_at, end_reason, duration_seconds`

const participantColumns = `call_id, user_id, status, session_uid, token,
	invited_at, joined_at, left_at, duration_seconds`

// CreateCall atomically persists a call and its participant rows. The
// partial unique index on (conversation_id) WHERE status IN
// ('initiated','connected') turns a concurrent initiate race into a
// constraint violation, reported as ErrActiveCallExists.
func (r *PostgresRepository) CreateCall(ctx context.Context, c *Call, participants []*Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create call: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ConversationID, c.InitiatorID, c.Type, c.Status, c.ChannelName,
		c.StartedAt, c.ConnectedAt, c.EndedAt, nullString(string(c.EndReason)), c.DurationSeconds,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrActiveCallExists
		}
		return fmt.Errorf("insert call: %w", err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO call_participants (`+participantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.CallID, p.UserID, p.Status, int64(p.SessionUID), p.Token,
			p.InvitedAt, p.JoinedAt, p.LeftAt, p.DurationSeconds,
		)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}

	return tx.Commit()
}

// GetCall retrieves a call by ID.
func (r *PostgresRepository) GetCall(ctx context.Context, id string) (*Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	return scanCall(row)
}

// GetParticipants returns all participant rows for a call.
func (r *PostgresRepository) GetParticipants(ctx context.Context, callID string) ([]*Participant, error) {
	// The call row is the existence anchor; an empty participant set for a
	// present call would be a data bug, not a lookup miss.
	if _, err := r.GetCall(ctx, callID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM call_participants
		 WHERE call_id = $1 ORDER BY invited_at, user_id`, callID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

// ActiveCallForConversation returns the conversation's non-terminal call.
func (r *PostgresRepository) ActiveCallForConversation(ctx context.Context, conversationID string) (*Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE conversation_id = $1 AND status IN ('initiated', 'connected')
		 LIMIT 1`, conversationID)
	c, err := scanCall(row)
	if errors.Is(err, ErrCallNotFound) {
		return nil, nil
	}
	return c, err
}

// ListCallsForConversation returns calls newest-first with cursor pagination.
func (r *PostgresRepository) ListCallsForConversation(ctx context.Context, conversationID, beforeID string, limit int) ([]*Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE conversation_id = $1`
	args := []interface{}{conversationID}

	if beforeID != "" {
		query += ` AND started_at < (SELECT started_at FROM calls WHERE id = $2)`
		args = append(args, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var result []*Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Transition loads the call and its participants FOR UPDATE, applies fn,
// and writes every row back in the same transaction.
func (r *PostgresRepository) Transition(ctx context.Context, callID string, fn func(c *Call, participants []*Participant) error) (*Call, []*Participant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1 FOR UPDATE`, callID)
	c, err := scanCall(row)
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM call_participants
		 WHERE call_id = $1 ORDER BY invited_at, user_id FOR UPDATE`, callID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock participants: %w", err)
	}
	parts, err := scanParticipants(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	if err := fn(c, parts); err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE calls SET status = $2, connected_at = $3, ended_at = $4,
		        end_reason = $5, duration_seconds = $6
		 WHERE id = $1`,
		c.ID, c.Status, c.ConnectedAt, c.EndedAt, nullString(string(c.EndReason)), c.DurationSeconds,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("update call: %w", err)
	}

	for _, p := range parts {
		_, err = tx.ExecContext(ctx,
			`UPDATE call_participants SET status = $3, joined_at = $4,
			        left_at = $5, duration_seconds = $6
			 WHERE call_id = $1 AND user_id = $2`,
			p.CallID, p.UserID, p.Status, p.JoinedAt, p.LeftAt, p.DurationSeconds,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("update participant %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transition: %w", err)
	}
	return c, parts, nil
}

// StaleInitiatedCallIDs returns initiated calls older than the unix cutoff.
func (r *PostgresRepository) StaleInitiatedCallIDs(ctx context.Context, cutoff int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM calls WHERE status = 'initiated' AND started_at < $1 ORDER BY id`,
		time.Unix(cutoff, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("query stale calls: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (*Call, error) {
	var (
		c         Call
		endReason sql.NullString
	)
	err := row.Scan(&c.ID, &c.ConversationID, &c.InitiatorID, &c.Type, &c.Status,
		&c.ChannelName, &c.StartedAt, &c.ConnectedAt, &c.EndedAt, &endReason, &c.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}
	c.EndReason = EndReason(endReason.String)
	return &c, nil
}

func scanParticipants(rows *sql.Rows) ([]*Participant, error) {
	var parts []*Participant
	for rows.Next() {
		var (
			p   Participant
			uid int64
		)
		err := rows.Scan(&p.CallID, &p.UserID, &p.Status, &uid, &p.Token,
			&p.InvitedAt, &p.JoinedAt, &p.LeftAt, &p.DurationSeconds)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.SessionUID = uint32(uid)
		parts = append(parts, &p)
	}
	return parts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
