package stream

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
// Viewer mutations lock the stream row FOR UPDATE so the row change and the
// current_viewers update commit as one step.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres stream repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const streamColumns = `id, owner_id, channel_name, title, status, is_paid,
	price_cents, currency, free_minutes, current_viewers, created_at, started_at, ended_at`

const viewerColumns = `id, stream_id, user_id, session_uid, token, joined_at, left_at`

// CreateStream persists a new stream.
func (r *PostgresRepository) CreateStream(ctx context.Context, s *Stream) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO streams (`+streamColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.OwnerID, s.ChannelName, s.Title, s.Status, s.IsPaid,
		s.PriceCents, nullStr(s.Currency), s.FreeMinutes, s.CurrentViewers,
		s.CreatedAt, s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

// GetStream retrieves a stream by ID.
func (r *PostgresRepository) GetStream(ctx context.Context, id string) (*Stream, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	return scanStream(row)
}

// SetLive transitions upcoming -> live. The status predicate in the UPDATE
// makes concurrent go-live requests race safely: losers see zero rows.
func (r *PostgresRepository) SetLive(ctx context.Context, id string, now time.Time) (*Stream, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE streams SET status = 'live', started_at = $2
		 WHERE id = $1 AND status = 'upcoming'`, id, now)
	if err != nil {
		return nil, fmt.Errorf("set live: %w", err)
	}
	return r.afterStatusUpdate(ctx, id, res)
}

// SetEnded transitions live -> ended, closes all active viewer rows, and
// zeroes the counter in one transaction.
func (r *PostgresRepository) SetEnded(ctx context.Context, id string, now time.Time) (*Stream, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin set ended: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE streams SET status = 'ended', ended_at = $2, current_viewers = 0
		 WHERE id = $1 AND status = 'live'`, id, now)
	if err != nil {
		return nil, fmt.Errorf("set ended: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetStream(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStreamState
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE stream_viewers SET left_at = $2
		 WHERE stream_id = $1 AND left_at IS NULL`, id, now)
	if err != nil {
		return nil, fmt.Errorf("close viewers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit set ended: %w", err)
	}
	return r.GetStream(ctx, id)
}

// AddViewer inserts an active viewer row and increments current_viewers
// under the stream row lock. The partial unique index on (stream_id,
// user_id) WHERE left_at IS NULL turns a double-join race into a constraint
// violation, reported as ErrViewerActive.
func (r *PostgresRepository) AddViewer(ctx context.Context, v *Viewer) (*Stream, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add viewer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, v.StreamID)
	if _, err := scanStream(row); err != nil {
		return nil, err
	}

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO stream_viewers (`+viewerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.StreamID, v.UserID, int64(v.SessionUID), v.Token, v.JoinedAt, v.LeftAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrViewerActive
		}
		return nil, fmt.Errorf("insert viewer: %w", err)
	}

	row = tx.QueryRowContext(ctx,
		`UPDATE streams SET current_viewers = current_viewers + 1
		 WHERE id = $1
		 RETURNING `+streamColumns, v.StreamID)
	st, err := scanStream(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add viewer: %w", err)
	}
	return st, nil
}

// RemoveViewer closes the active viewer row and decrements the counter.
func (r *PostgresRepository) RemoveViewer(ctx context.Context, streamID, userID string, now time.Time) (bool, *Stream, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("begin remove viewer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, streamID)
	st, err := scanStream(row)
	if err != nil {
		return false, nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE stream_viewers SET left_at = $3
		 WHERE stream_id = $1 AND user_id = $2 AND left_at IS NULL`,
		streamID, userID, now)
	if err != nil {
		return false, nil, fmt.Errorf("close viewer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		return false, st, tx.Commit()
	}

	row = tx.QueryRowContext(ctx,
		`UPDATE streams SET current_viewers = GREATEST(current_viewers - 1, 0)
		 WHERE id = $1
		 RETURNING `+streamColumns, streamID)
	st, err = scanStream(row)
	if err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("commit remove viewer: %w", err)
	}
	return true, st, nil
}

// FirstJoinedAt returns the earliest joined_at for (stream, user).
func (r *PostgresRepository) FirstJoinedAt(ctx context.Context, streamID, userID string) (*time.Time, error) {
	var first sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(joined_at) FROM stream_viewers
		 WHERE stream_id = $1 AND user_id = $2`, streamID, userID).Scan(&first)
	if err != nil {
		return nil, fmt.Errorf("query first join: %w", err)
	}
	if !first.Valid {
		return nil, nil
	}
	t := first.Time
	return &t, nil
}

// ActiveViewers returns active viewer rows ordered by joined_at.
func (r *PostgresRepository) ActiveViewers(ctx context.Context, streamID string, limit, offset int) ([]*Viewer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+viewerColumns+` FROM stream_viewers
		 WHERE stream_id = $1 AND left_at IS NULL
		 ORDER BY joined_at, user_id
		 LIMIT $2 OFFSET $3`, streamID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query viewers: %w", err)
	}
	defer rows.Close()

	viewers := []*Viewer{}
	for rows.Next() {
		var (
			v   Viewer
			uid int64
		)
		err := rows.Scan(&v.ID, &v.StreamID, &v.UserID, &uid, &v.Token, &v.JoinedAt, &v.LeftAt)
		if err != nil {
			return nil, fmt.Errorf("scan viewer: %w", err)
		}
		v.SessionUID = uint32(uid)
		viewers = append(viewers, &v)
	}
	return viewers, rows.Err()
}

// ListLive returns live streams newest-first.
func (r *PostgresRepository) ListLive(ctx context.Context, limit int) ([]*Stream, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams
		 WHERE status = 'live'
		 ORDER BY started_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query live streams: %w", err)
	}
	defer rows.Close()

	var result []*Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) afterStatusUpdate(ctx context.Context, id string, res sql.Result) (*Stream, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetStream(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStreamState
	}
	return r.GetStream(ctx, id)
}

func scanStream(row interface{ Scan(dest ...interface{}) error }) (*Stream, error) {
	var (
		s        Stream
		currency sql.NullString
	)
	err := row.Scan(&s.ID, &s.OwnerID, &s.ChannelName, &s.Title, &s.Status, &s.IsPaid,
		&s.PriceCents, &currency, &s.FreeMinutes, &s.CurrentViewers,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stream: %w", err)
	}
	s.Currency = currency.String
	return &s, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
