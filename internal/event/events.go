// Package event defines the typed fan-out events published on call, stream,
// and message state transitions, and the best-effort notifier that delivers
// them to connected clients.
package event

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the envelope version stamped on every published event.
const SchemaVersion = 1

// Type identifies the kind of state transition an event describes.
type Type string

const (
	TypeCallInitiated Type = "call.initiated"
	TypeCallAnswered  Type = "call.answered"
	TypeCallEnded     Type = "call.ended"
	TypeCallMissed    Type = "call.missed"
	TypeMessageSent   Type = "message.sent"
	TypeViewerJoined  Type = "viewer.joined"
	TypeViewerLeft    Type = "viewer.left"
)

// Event is a state-transition notification with a fixed field set.
// Payloads are self-contained snapshots, never diffs, so out-of-order
// delivery at the subscriber is tolerable.
type Event interface {
	// EventType returns the tagged variant identifier.
	EventType() Type
	// Channel returns the pub/sub channel the event is published on.
	Channel() string
}

// ParticipantInfo is a denormalized snapshot of a participant carried on
// call events so subscribers can render without a second round-trip.
type ParticipantInfo struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// CallInitiated is published once when a call is created.
type CallInitiated struct {
	CallID         string            `json:"call_id"`
	ConversationID string            `json:"conversation_id"`
	InitiatorID    string            `json:"initiator_id"`
	CallType       string            `json:"call_type"`
	ChannelName    string            `json:"channel_name"`
	Participants   []ParticipantInfo `json:"participants"`
	StartedAt      time.Time         `json:"started_at"`
}

func (e *CallInitiated) EventType() Type { return TypeCallInitiated }
func (e *CallInitiated) Channel() string { return e.ChannelName }

// CallAnswered is published when a participant joins and, on the first
// non-initiator join, the call becomes connected.
type CallAnswered struct {
	CallID       string            `json:"call_id"`
	AnswererID   string            `json:"answerer_id"`
	CallStatus   string            `json:"call_status"`
	ChannelName  string            `json:"channel_name"`
	Participants []ParticipantInfo `json:"participants"`
	AnsweredAt   time.Time         `json:"answered_at"`
}

func (e *CallAnswered) EventType() Type { return TypeCallAnswered }
func (e *CallAnswered) Channel() string { return e.ChannelName }

// CallEnded is published once when a call reaches the ended state.
type CallEnded struct {
	CallID          string            `json:"call_id"`
	EndedByID       string            `json:"ended_by_id"`
	EndReason       string            `json:"end_reason"`
	ChannelName     string            `json:"channel_name"`
	Participants    []ParticipantInfo `json:"participants"`
	DurationSeconds int               `json:"duration_seconds"`
	EndedAt         time.Time         `json:"ended_at"`
}

func (e *CallEnded) EventType() Type { return TypeCallEnded }
func (e *CallEnded) Channel() string { return e.ChannelName }

// CallMissed is published once when every invited participant has rejected.
type CallMissed struct {
	CallID       string            `json:"call_id"`
	ChannelName  string            `json:"channel_name"`
	Participants []ParticipantInfo `json:"participants"`
	MissedAt     time.Time         `json:"missed_at"`
}

func (e *CallMissed) EventType() Type { return TypeCallMissed }
func (e *CallMissed) Channel() string { return e.ChannelName }

// MessageSent is published when a chat message is persisted.
type MessageSent struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	MessageType    string            `json:"message_type"`
	Body           string            `json:"body,omitempty"`
	ReplyToID      string            `json:"reply_to_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SentAt         time.Time         `json:"sent_at"`
}

func (e *MessageSent) EventType() Type { return TypeMessageSent }
func (e *MessageSent) Channel() string { return "conversation-" + e.ConversationID }

// ViewerJoined is published when a stream viewer passes the access gate.
type ViewerJoined struct {
	StreamID       string    `json:"stream_id"`
	UserID         string    `json:"user_id"`
	ChannelName    string    `json:"channel_name"`
	CurrentViewers int       `json:"current_viewers"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (e *ViewerJoined) EventType() Type { return TypeViewerJoined }
func (e *ViewerJoined) Channel() string { return e.ChannelName }

// ViewerLeft is published when a stream viewer leaves.
type ViewerLeft struct {
	StreamID       string    `json:"stream_id"`
	UserID         string    `json:"user_id"`
	ChannelName    string    `json:"channel_name"`
	CurrentViewers int       `json:"current_viewers"`
	LeftAt         time.Time `json:"left_at"`
}

func (e *ViewerLeft) EventType() Type { return TypeViewerLeft }
func (e *ViewerLeft) Channel() string { return e.ChannelName }

// envelope is the wire form shared by every event. The data field carries
// the variant's fixed field set.
type envelope struct {
	V       int         `json:"v"`
	Type    Type        `json:"type"`
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// Encode serializes an event through the shared encoder. All call sites go
// through here so field names stay consistent across the codebase.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(envelope{
		V:       SchemaVersion,
		Type:    e.EventType(),
		Channel: e.Channel(),
		Data:    e,
	})
}
