// Package rtc provides session credential issuance and room control for the
// LiveKit real-time transport.
package rtc

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/livekit/protocol/auth"
)

// Role determines the grants and validity window of a session token.
type Role string

const (
	// RolePublisher may publish and subscribe. Used by call participants
	// and stream owners.
	RolePublisher Role = "publisher"
	// RoleSubscriber may only subscribe. Used by stream viewers.
	RoleSubscriber Role = "subscriber"
)

// Token validity windows per role. Publishers hold longer-lived tokens so a
// host never drops mid-session for credential expiry.
const (
	PublisherTokenTTL  = 2 * time.Hour
	SubscriberTokenTTL = 1 * time.Hour
)

var (
	// ErrMissingAPIKey is returned when the API key is empty.
	ErrMissingAPIKey = errors.New("livekit API key is required")

	// ErrMissingAPISecret is returned when the API secret is empty.
	ErrMissingAPISecret = errors.New("livekit API secret is required")

	// ErrMissingChannelName is returned when the channel name is empty.
	ErrMissingChannelName = errors.New("channel name is required")

	// ErrMissingIdentity is returned when the participant identity is empty.
	ErrMissingIdentity = errors.New("participant identity is required")

	// ErrInvalidRole is returned for roles other than publisher/subscriber.
	ErrInvalidRole = errors.New("role must be publisher or subscriber")

	// ErrTokenIssuance is returned when signing fails. Callers must abort
	// the enclosing operation: no session proceeds without a valid token.
	ErrTokenIssuance = errors.New("failed to issue session token")
)

// SessionCredential authorizes one participant to join one channel in one role.
type SessionCredential struct {
	SessionUID uint32    `json:"session_uid"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TokenService issues signed session credentials for the transport service.
type TokenService struct {
	apiKey    string
	apiSecret string
}

// NewTokenService creates a TokenService with the given API credentials.
func NewTokenService(apiKey, apiSecret string) (*TokenService, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if apiSecret == "" {
		return nil, ErrMissingAPISecret
	}
	return &TokenService{apiKey: apiKey, apiSecret: apiSecret}, nil
}

// IssueToken creates a signed credential for (channelName, identity, role).
// Generation is deterministic per (channel, identity, expiry): the session
// UID is a stable hash, so a re-issued credential addresses the same
// transport participant.
func (s *TokenService) IssueToken(channelName, identity string, role Role) (*SessionCredential, error) {
	if channelName == "" {
		return nil, ErrMissingChannelName
	}
	if identity == "" {
		return nil, ErrMissingIdentity
	}

	var ttl time.Duration
	canPublish := false
	switch role {
	case RolePublisher:
		ttl = PublisherTokenTTL
		canPublish = true
	case RoleSubscriber:
		ttl = SubscriberTokenTTL
	default:
		return nil, ErrInvalidRole
	}

	canSubscribe := true
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)
	at.SetIdentity(identity)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:     true,
		Room:         channelName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	})
	at.SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}

	return &SessionCredential{
		SessionUID: SessionUID(channelName, identity),
		Token:      token,
		ExpiresAt:  time.Now().Add(ttl).UTC(),
	}, nil
}

// SessionUID derives the stable numeric session UID for a participant on a
// channel. Never zero: the transport reserves UID 0 for "unassigned".
func SessionUID(channelName, identity string) uint32 {
	h := fnv.New32a()
	// Null byte separator so ("ab","c") and ("a","bc") cannot collide.
	h.Write([]byte(channelName))
	h.Write([]byte{0})
	h.Write([]byte(identity))
	uid := h.Sum32()
	if uid == 0 {
		uid = 1
	}
	return uid
}
