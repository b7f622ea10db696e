// Package call implements the call lifecycle state machine and participant
// registry for audio/video sessions scoped to a conversation.
package call

import "time"

// Type is the media type of a call.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

// Valid reports whether t is a known call type.
func (t Type) Valid() bool {
	return t == TypeAudio || t == TypeVideo
}

// Status is the lifecycle state of a call. Transitions are monotonic:
// initiated -> connected -> ended, or initiated -> missed. Terminal states
// accept no further mutation.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
)

// EndReason records why a call reached a terminal state.
type EndReason string

const (
	EndReasonEndedByCaller EndReason = "ended_by_caller"
	EndReasonRejected      EndReason = "rejected"
	EndReasonRingTimeout   EndReason = "ring_timeout"
)

// ParticipantStatus is the registry state of one (call, user) pair.
// Transitions are one-directional: invited -> joined -> left,
// invited -> rejected, or joined -> kicked.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantRejected ParticipantStatus = "rejected"
	ParticipantKicked   ParticipantStatus = "kicked"
)

// Call represents one audio/video session tied to a conversation.
// ChannelName is globally unique and immutable once assigned.
type Call struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	InitiatorID     string     `json:"initiator_id"`
	Type            Type       `json:"call_type"`
	Status          Status     `json:"status"`
	ChannelName     string     `json:"channel_name"`
	StartedAt       time.Time  `json:"started_at"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       EndReason  `json:"end_reason,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

// Terminal reports whether the call has reached a final state.
func (c *Call) Terminal() bool {
	return c.Status == StatusEnded || c.Status == StatusMissed
}

// Participant is one row per (call, user), owned exclusively by its Call.
type Participant struct {
	CallID          string            `json:"call_id"`
	UserID          string            `json:"user_id"`
	Status          ParticipantStatus `json:"status"`
	SessionUID      uint32            `json:"session_uid"`
	Token           string            `json:"-"` // never serialized into fan-out payloads
	InvitedAt       time.Time         `json:"invited_at"`
	JoinedAt        *time.Time        `json:"joined_at,omitempty"`
	LeftAt          *time.Time        `json:"left_at,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
}

// markLeft transitions the participant to left at the given instant and
// fixes its duration. Idempotent: a participant already left, rejected, or
// kicked is untouched, so the duration is computed exactly once.
func (p *Participant) markLeft(now time.Time) {
	if p.Status == ParticipantLeft || p.Status == ParticipantRejected || p.Status == ParticipantKicked {
		return
	}
	p.Status = ParticipantLeft
	t := now
	p.LeftAt = &t
	if p.JoinedAt != nil {
		d := int(now.Sub(*p.JoinedAt).Seconds())
		if d < 0 {
			d = 0
		}
		p.DurationSeconds = d
	}
}

// Snapshot is the updated entity view returned by every state-changing
// operation: the call, its participant rows, and (when the operation issued
// one) the acting participant's session credential.
type Snapshot struct {
	Call         *Call          `json:"call"`
	Participants []*Participant `json:"participants"`
}
