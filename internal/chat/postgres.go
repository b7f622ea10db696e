package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRepository implements Repository against a relational store.
// Message metadata is stored as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres chat repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const conversationColumns = `id, conv_type, title, stream_id, created_by, created_at`

const messageColumns = `id, conversation_id, sender_id, msg_type, body,
	reply_to_id, metadata, created_at, deleted_at`

// CreateConversation atomically persists a conversation and its member rows.
func (r *PostgresRepository) CreateConversation(ctx context.Context, c *Conversation, memberIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Type, nullStr(c.Title), nullStr(c.StreamID), c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range memberIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, joined_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			c.ID, userID, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert member %s: %w", userID, err)
		}
	}

	return tx.Commit()
}

// GetConversation retrieves a conversation by ID.
func (r *PostgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ConversationForStream returns the stream's attached conversation.
func (r *PostgresRepository) ConversationForStream(ctx context.Context, streamID string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE conv_type = 'stream' AND stream_id = $1`, streamID)
	return scanConversation(row)
}

// Members returns the conversation's member user IDs sorted ascending.
func (r *PostgresRepository) Members(ctx context.Context, conversationID string) ([]string, error) {
	if _, err := r.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_members
		 WHERE conversation_id = $1 ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
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

// IsMember reports whether the user belongs to the conversation.
func (r *PostgresRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM conversation_members
		   WHERE conversation_id = $1 AND user_id = $2
		 )`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return exists, nil
}

// CreateMessage persists a message after validating its reply reference.
func (r *PostgresRepository) CreateMessage(ctx context.Context, m *Message) error {
	if m.ReplyToID != "" {
		var ok bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM messages
			   WHERE id = $1 AND conversation_id = $2 AND deleted_at IS NULL
			 )`, m.ReplyToID, m.ConversationID).Scan(&ok)
		if err != nil {
			return fmt.Errorf("check reply target: %w", err)
		}
		if !ok {
			return ErrReplyTargetMissing
		}
	}

	var metadata []byte
	if len(m.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, m.SenderID, m.Type, nullStr(m.Body),
		nullStr(m.ReplyToID), metadata, m.CreatedAt, m.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID, excluding soft-deleted ones.
func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanMessage(row)
}

// DeleteMessage soft-deletes a message.
func (r *PostgresRepository) DeleteMessage(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages retrieves messages newest-first with cursor pagination.
func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID string, limit int, cursor *MessageCursor) ([]*Message, *MessageCursor, error) {
	if _, err := r.GetConversation(ctx, conversationID); err != nil {
		return nil, nil, err
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		 WHERE conversation_id = $1 AND deleted_at IS NULL`
	args := []interface{}{conversationID}

	if cursor != nil {
		query += ` AND (created_at < $2 OR (created_at = $2 AND id > $3))`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	// Fetch one extra row to decide whether a next page exists.
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT %d`, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *MessageCursor
	if len(messages) > limit {
		messages = messages[:limit]
		last := messages[len(messages)-1]
		nextCursor = &MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return messages, nextCursor, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c        Conversation
		title    sql.NullString
		streamID sql.NullString
	)
	err := row.Scan(&c.ID, &c.Type, &title, &streamID, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Title = title.String
	c.StreamID = streamID.String
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m        Message
		body     sql.NullString
		replyTo  sql.NullString
		metadata []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &body,
		&replyTo, &metadata, &m.CreatedAt, &m.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Body = body.String
	m.ReplyToID = replyTo.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
