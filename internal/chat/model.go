// Package chat provides conversations and messages, the substrate calls and
// stream chats hang off.
package chat

import "time"

// ConversationType distinguishes member-gated conversations from the open
// chat attached to a live stream.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
	// ConversationStream is the chat room attached to a live stream. Access
	// runs through the stream's gate instead of the member list.
	ConversationStream ConversationType = "stream"
)

// MessageType is the content type of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
)

// Valid reports whether the message type is one of the known kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile, MessageLocation:
		return true
	}
	return false
}

// Conversation is a message container. Direct conversations hold exactly two
// members; stream conversations carry the owning stream's ID.
type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type"`
	Title     string           `json:"title,omitempty"`
	StreamID  string           `json:"stream_id,omitempty"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
}

// Message is a single message in a conversation. Body carries text content;
// non-text kinds describe their payload through Metadata (object keys, mime
// types, coordinates).
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Type           MessageType       `json:"type"`
	Body           string            `json:"body,omitempty"`
	ReplyToID      string            `json:"reply_to_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
}

// MessageCursor paginates message history. Uses (created_at, id) for stable
// ordering with tie-breaking.
type MessageCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}
