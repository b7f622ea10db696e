// Package stream implements live broadcast sessions with payment-gated
// viewer access.
package stream

import "time"

// Status is the lifecycle state of a stream.
// Only advances: upcoming -> live -> ended.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusLive     Status = "live"
	StatusEnded    Status = "ended"
)

// Stream is a single live broadcast session. ChannelName is unique and
// write-once; CurrentViewers is maintained transactionally alongside viewer
// row changes and must equal the count of active viewer rows.
type Stream struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	ChannelName    string     `json:"channel_name"`
	Title          string     `json:"title"`
	Status         Status     `json:"status"`
	IsPaid         bool       `json:"is_paid"`
	PriceCents     int64      `json:"price_cents,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	FreeMinutes    int        `json:"free_minutes,omitempty"`
	CurrentViewers int        `json:"current_viewers"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Live reports whether the stream is currently broadcasting.
func (s *Stream) Live() bool {
	return s.Status == StatusLive
}

// Viewer is one (stream, user) viewing session. At most one active row
// (left_at null) may exist per pair; rejoining creates a new row but the
// free window is always measured from the first row's joined_at.
type Viewer struct {
	ID         string     `json:"id"`
	StreamID   string     `json:"stream_id"`
	UserID     string     `json:"user_id"`
	SessionUID uint32     `json:"session_uid"`
	Token      string     `json:"-"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

// Active reports whether the viewer is currently watching.
func (v *Viewer) Active() bool {
	return v.LeftAt == nil
}
