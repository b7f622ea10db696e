package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for chat operations.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrMessageDeleted       = errors.New("message has been deleted")

	// ErrReplyTargetMissing is returned when reply_to references a message
	// outside the conversation or one that does not exist.
	ErrReplyTargetMissing = errors.New("reply target message not found in conversation")
)

// Repository defines conversation and message persistence.
type Repository interface {
	// CreateConversation persists a conversation and its member rows.
	CreateConversation(ctx context.Context, c *Conversation, memberIDs []string) error

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ConversationForStream returns the stream-type conversation attached
	// to a stream, or ErrConversationNotFound.
	ConversationForStream(ctx context.Context, streamID string) (*Conversation, error)

	// Members returns the conversation's member user IDs sorted ascending.
	Members(ctx context.Context, conversationID string) ([]string, error)

	// IsMember reports whether the user belongs to the conversation.
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)

	// CreateMessage persists a message. Validates the reply_to reference
	// against the same conversation.
	CreateMessage(ctx context.Context, m *Message) error

	// GetMessage retrieves a message by ID, excluding soft-deleted ones.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// DeleteMessage soft-deletes a message.
	DeleteMessage(ctx context.Context, id string) error

	// ListMessages retrieves a conversation's messages newest-first with
	// cursor pagination. Returns messages, the next cursor (nil if no
	// more), and error.
	ListMessages(ctx context.Context, conversationID string, limit int, cursor *MessageCursor) ([]*Message, *MessageCursor, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	members       map[string]map[string]bool // conversation ID -> member set
	messages      map[string]*Message
	byStream      map[string]string // stream ID -> conversation ID
}

// NewInMemoryRepository creates an empty in-memory chat repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		conversations: make(map[string]*Conversation),
		members:       make(map[string]map[string]bool),
		messages:      make(map[string]*Message),
		byStream:      make(map[string]string),
	}
}

// CreateConversation persists a conversation and its member rows.
func (r *InMemoryRepository) CreateConversation(ctx context.Context, c *Conversation, memberIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	convCopy := *c
	r.conversations[c.ID] = &convCopy

	set := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = true
	}
	r.members[c.ID] = set

	if c.Type == ConversationStream && c.StreamID != "" {
		r.byStream[c.StreamID] = c.ID
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (r *InMemoryRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	convCopy := *c
	return &convCopy, nil
}

// ConversationForStream returns the stream's attached conversation.
func (r *InMemoryRepository) ConversationForStream(ctx context.Context, streamID string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byStream[streamID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	convCopy := *r.conversations[id]
	return &convCopy, nil
}

// Members returns the conversation's member user IDs sorted ascending.
func (r *InMemoryRepository) Members(ctx context.Context, conversationID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsMember reports whether the user belongs to the conversation.
func (r *InMemoryRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[conversationID]
	if !ok {
		return false, ErrConversationNotFound
	}
	return set[userID], nil
}

// CreateMessage persists a message after validating its reply reference.
func (r *InMemoryRepository) CreateMessage(ctx context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[m.ConversationID]; !ok {
		return ErrConversationNotFound
	}
	if m.ReplyToID != "" {
		target, ok := r.messages[m.ReplyToID]
		if !ok || target.ConversationID != m.ConversationID || target.DeletedAt != nil {
			return ErrReplyTargetMissing
		}
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	msgCopy := *m
	r.messages[m.ID] = &msgCopy
	return nil
}

// GetMessage retrieves a message by ID, excluding soft-deleted ones.
func (r *InMemoryRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok || m.DeletedAt != nil {
		return nil, ErrMessageNotFound
	}
	msgCopy := *m
	return &msgCopy, nil
}

// DeleteMessage soft-deletes a message.
func (r *InMemoryRepository) DeleteMessage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok || m.DeletedAt != nil {
		return ErrMessageNotFound
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	return nil
}

// ListMessages retrieves messages newest-first with cursor pagination.
func (r *InMemoryRepository) ListMessages(ctx context.Context, conversationID string, limit int, cursor *MessageCursor) ([]*Message, *MessageCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.conversations[conversationID]; !ok {
		return nil, nil, ErrConversationNotFound
	}

	var candidates []*Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID || m.DeletedAt != nil {
			continue
		}
		if cursor != nil {
			if m.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if m.CreatedAt.Equal(cursor.CreatedAt) && m.ID <= cursor.ID {
				continue
			}
		}
		candidates = append(candidates, m)
	}

	// created_at DESC, id ASC tie-break for stable pagination.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.After(candidates[j].CreatedAt) {
			return true
		}
		if candidates[i].CreatedAt.Before(candidates[j].CreatedAt) {
			return false
		}
		return candidates[i].ID < candidates[j].ID
	})

	var results []*Message
	var nextCursor *MessageCursor
	if len(candidates) > limit {
		results = candidates[:limit]
		last := results[len(results)-1]
		nextCursor = &MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	} else {
		results = candidates
	}

	copies := make([]*Message, len(results))
	for i, m := range results {
		msgCopy := *m
		copies[i] = &msgCopy
	}
	return copies, nextCursor, nil
}
