package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-social/tandem/internal/event"
)

// Validation errors for chat operations.
var (
	// ErrNotMember is returned when the actor does not belong to the conversation.
	ErrNotMember = errors.New("user is not a member of this conversation")

	// ErrNotSender is returned when deleting a message the actor did not send.
	ErrNotSender = errors.New("only the sender may delete a message")

	// ErrInvalidMessageType is returned for unknown message types.
	ErrInvalidMessageType = errors.New("unknown message type")

	// ErrEmptyMessage is returned for a text message with an empty body.
	ErrEmptyMessage = errors.New("message body is required")

	// ErrTooFewMembers is returned when creating a conversation with fewer
	// than two members.
	ErrTooFewMembers = errors.New("conversation needs at least two members")
)

// StreamAuthorizer gates access to a stream's attached chat. Implemented by
// the stream access gate at the composition root.
type StreamAuthorizer interface {
	AuthorizeViewer(ctx context.Context, streamID, userID string) error
}

// Notifier publishes fan-out events. Satisfied by *event.Notifier.
type Notifier interface {
	Publish(e event.Event)
}

// Service implements conversation and message operations. Member-gated
// conversations check the member list; stream conversations delegate to the
// stream's access gate so the paywall applies to chat too.
type Service struct {
	repo     Repository
	streams  StreamAuthorizer // optional
	notifier Notifier         // optional

	now func() time.Time
}

// NewService creates a chat service. streams and notifier may be nil.
func NewService(repo Repository, streams StreamAuthorizer, notifier Notifier) *Service {
	return &Service{repo: repo, streams: streams, notifier: notifier, now: time.Now}
}

// CreateDirect creates a two-member direct conversation.
func (s *Service) CreateDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrTooFewMembers
	}
	c := &Conversation{
		ID:        uuid.New().String(),
		Type:      ConversationDirect,
		CreatedBy: userA,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateConversation(ctx, c, []string{userA, userB}); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateGroup creates a group conversation. The creator is always a member.
func (s *Service) CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*Conversation, error) {
	members := dedupe(append(memberIDs, creatorID))
	if len(members) < 2 {
		return nil, ErrTooFewMembers
	}
	c := &Conversation{
		ID:        uuid.New().String(),
		Type:      ConversationGroup,
		Title:     strings.TrimSpace(title),
		CreatedBy: creatorID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateConversation(ctx, c, members); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateStreamConversation creates the chat room attached to a stream. Only
// the owner is a member row; everyone else is admitted through the stream's
// access gate at send time.
func (s *Service) CreateStreamConversation(ctx context.Context, streamID, ownerID string) (*Conversation, error) {
	c := &Conversation{
		ID:        uuid.New().String(),
		Type:      ConversationStream,
		StreamID:  streamID,
		CreatedBy: ownerID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateConversation(ctx, c, []string{ownerID}); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a conversation the user is authorized to see.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, c, userID); err != nil {
		return nil, err
	}
	return c, nil
}

// Send validates access, persists the message, and publishes a message.sent
// event on the conversation channel.
func (s *Service) Send(ctx context.Context, conversationID, senderID string, msgType MessageType, body, replyToID string, metadata map[string]string) (*Message, error) {
	if !msgType.Valid() {
		return nil, ErrInvalidMessageType
	}
	body = strings.TrimSpace(body)
	if msgType == MessageText && body == "" {
		return nil, ErrEmptyMessage
	}

	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, c, senderID); err != nil {
		return nil, err
	}

	m := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Body:           body,
		ReplyToID:      replyToID,
		Metadata:       metadata,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.CreateMessage(ctx, m); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Publish(&event.MessageSent{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			MessageType:    string(m.Type),
			Body:           m.Body,
			ReplyToID:      m.ReplyToID,
			Metadata:       m.Metadata,
			SentAt:         m.CreatedAt,
		})
	}
	return m, nil
}

// History returns the conversation's messages newest-first.
func (s *Service) History(ctx context.Context, conversationID, userID string, limit int, cursor *MessageCursor) ([]*Message, *MessageCursor, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	c, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, c, userID); err != nil {
		return nil, nil, err
	}
	return s.repo.ListMessages(ctx, conversationID, limit, cursor)
}

// HistoryBefore pages History using a message ID as the cursor anchor.
// An anchor outside the conversation fails with ErrMessageNotFound.
func (s *Service) HistoryBefore(ctx context.Context, conversationID, userID string, limit int, beforeID string) ([]*Message, *MessageCursor, error) {
	var cursor *MessageCursor
	if beforeID != "" {
		m, err := s.repo.GetMessage(ctx, beforeID)
		if err != nil {
			return nil, nil, err
		}
		if m.ConversationID != conversationID {
			return nil, nil, ErrMessageNotFound
		}
		cursor = &MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
	}
	return s.History(ctx, conversationID, userID, limit, cursor)
}

// Delete soft-deletes a message. Sender-only.
func (s *Service) Delete(ctx context.Context, messageID, userID string) error {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return ErrNotSender
	}
	return s.repo.DeleteMessage(ctx, messageID)
}

// authorize admits members of member-gated conversations, and routes stream
// conversations through the stream access gate. The owner of a stream chat
// is a member row and never hits the gate.
func (s *Service) authorize(ctx context.Context, c *Conversation, userID string) error {
	ok, err := s.repo.IsMember(ctx, c.ID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if c.Type == ConversationStream && s.streams != nil {
		return s.streams.AuthorizeViewer(ctx, c.StreamID, userID)
	}
	return ErrNotMember
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
