package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-social/tandem/internal/event"
	"github.com/tandem-social/tandem/internal/rtc"
)

// State machine errors, reported synchronously to the caller. None are
// retried automatically: the caller must re-fetch state and decide.
var (
	// ErrNotParticipant is returned when the actor is not a member of the call.
	ErrNotParticipant = errors.New("user is not a participant of this call")

	// ErrCallTerminal is returned when acting on an ended or missed call.
	ErrCallTerminal = errors.New("call has already ended")

	// ErrNotInitiator is returned when a non-initiator attempts to kick.
	ErrNotInitiator = errors.New("only the call initiator may do this")

	// ErrSelfKick is returned when the initiator targets themselves.
	ErrSelfKick = errors.New("cannot kick yourself from a call")

	// ErrParticipantState is returned when the participant's registry
	// status does not admit the requested transition.
	ErrParticipantState = errors.New("participant state does not allow this transition")

	// ErrTooFewMembers is returned when initiating in a conversation with
	// fewer than two members.
	ErrTooFewMembers = errors.New("conversation needs at least two members for a call")

	// ErrInvalidCallType is returned for call types other than audio/video.
	ErrInvalidCallType = errors.New("call type must be audio or video")
)

// ConversationDirectory resolves conversation membership for call invites.
// Implemented by the chat repository.
type ConversationDirectory interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// Notifier publishes fan-out events. Satisfied by *event.Notifier.
type Notifier interface {
	Publish(e event.Event)
}

// Service applies call state transitions. All aggregate decisions (connect,
// end, miss) are computed by counting participant rows inside the
// repository's Transition lock, so concurrent requests converge to the same
// terminal state regardless of arrival order.
type Service struct {
	repo     Repository
	tokens   *rtc.TokenService
	rooms    *rtc.RoomService // optional
	convos   ConversationDirectory
	notifier Notifier // optional
	metrics  *Metrics // optional

	now func() time.Time
}

// NewService creates a call service. rooms, notifier, and metrics may be nil.
func NewService(repo Repository, tokens *rtc.TokenService, rooms *rtc.RoomService, convos ConversationDirectory, notifier Notifier, metrics *Metrics) *Service {
	return &Service{
		repo:     repo,
		tokens:   tokens,
		rooms:    rooms,
		convos:   convos,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Initiate creates a call in the initiated status: the initiator is
// auto-joined, every other conversation member is invited, and publisher
// tokens are issued for all. Fails with ErrActiveCallExists if the
// conversation already has a non-terminal call, and with ErrTokenIssuance
// if any credential cannot be signed (no session without a valid token).
func (s *Service) Initiate(ctx context.Context, conversationID, initiatorID string, callType Type) (*Snapshot, error) {
	if !callType.Valid() {
		return nil, ErrInvalidCallType
	}

	members, err := s.convos.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(members) < 2 {
		return nil, ErrTooFewMembers
	}
	if !contains(members, initiatorID) {
		return nil, ErrNotParticipant
	}

	// Pre-flight conflict check; CreateCall re-checks atomically.
	if active, err := s.repo.ActiveCallForConversation(ctx, conversationID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrActiveCallExists
	}

	now := s.now().UTC()
	c := &Call{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		Type:           callType,
		Status:         StatusInitiated,
		ChannelName:    "call-" + uuid.New().String(),
		StartedAt:      now,
	}

	participants := make([]*Participant, 0, len(members))
	for _, userID := range members {
		cred, err := s.tokens.IssueToken(c.ChannelName, userID, rtc.RolePublisher)
		if err != nil {
			return nil, fmt.Errorf("issuing token for %s: %w", userID, err)
		}

		p := &Participant{
			CallID:     c.ID,
			UserID:     userID,
			Status:     ParticipantInvited,
			SessionUID: cred.SessionUID,
			Token:      cred.Token,
			InvitedAt:  now,
		}
		if userID == initiatorID {
			p.Status = ParticipantJoined
			t := now
			p.JoinedAt = &t
		}
		participants = append(participants, p)
	}

	if err := s.repo.CreateCall(ctx, c, participants); err != nil {
		return nil, err
	}

	if s.rooms != nil {
		// Best effort: the room is also created on demand when the first
		// participant connects with their token.
		if _, err := s.rooms.CreateRoom(ctx, c.ChannelName, 7200, 0); err != nil {
			slog.WarnContext(ctx, "failed to create transport room", "channel", c.ChannelName, "error", err)
		}
	}

	slog.InfoContext(ctx, "call initiated",
		"call_id", c.ID, "conversation_id", conversationID, "initiator_id", initiatorID, "call_type", callType)
	if s.metrics != nil {
		s.metrics.IncInitiated(string(callType))
	}
	s.publish(&event.CallInitiated{
		CallID:         c.ID,
		ConversationID: c.ConversationID,
		InitiatorID:    c.InitiatorID,
		CallType:       string(c.Type),
		ChannelName:    c.ChannelName,
		Participants:   participantInfos(participants),
		StartedAt:      c.StartedAt,
	})

	return &Snapshot{Call: c, Participants: participants}, nil
}

// Answer marks an invited participant as joined. The first non-initiator
// join transitions the call initiated -> connected. Answering a terminal
// call fails with ErrCallTerminal.
func (s *Service) Answer(ctx context.Context, callID, userID string) (*Snapshot, error) {
	var connected bool
	now := s.now().UTC()

	c, parts, err := s.repo.Transition(ctx, callID, func(c *Call, parts []*Participant) error {
		if c.Terminal() {
			return ErrCallTerminal
		}
		p := findParticipant(parts, userID)
		if p == nil {
			return ErrNotParticipant
		}
		if p.Status != ParticipantInvited {
			return ErrParticipantState
		}

		p.Status = ParticipantJoined
		t := now
		p.JoinedAt = &t

		if c.Status == StatusInitiated {
			c.Status = StatusConnected
			ct := now
			c.ConnectedAt = &ct
			connected = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if connected {
		slog.InfoContext(ctx, "call connected", "call_id", c.ID, "answerer_id", userID)
		if s.metrics != nil {
			s.metrics.IncConnected()
		}
	}
	s.publish(&event.CallAnswered{
		CallID:       c.ID,
		AnswererID:   userID,
		CallStatus:   string(c.Status),
		ChannelName:  c.ChannelName,
		Participants: participantInfos(parts),
		AnsweredAt:   now,
	})

	return &Snapshot{Call: c, Participants: parts}, nil
}

// End marks the acting participant as left. When the ender is the initiator,
// or fewer than two participants remain joined, the call transitions to
// ended and every remaining joined participant is force-marked left.
// Idempotent: ending a terminal call returns the existing snapshot without
// re-applying side effects.
func (s *Service) End(ctx context.Context, callID, userID string) (*Snapshot, error) {
	var finished bool
	now := s.now().UTC()

	c, parts, err := s.repo.Transition(ctx, callID, func(c *Call, parts []*Participant) error {
		p := findParticipant(parts, userID)
		if p == nil {
			return ErrNotParticipant
		}
		if c.Terminal() {
			// Second end observes the terminal state: no new timestamps,
			// no duration recomputation, no notification.
			return nil
		}

		p.markLeft(now)

		remaining := countStatus(parts, ParticipantJoined)
		if userID == c.InitiatorID || remaining < 2 {
			finishCall(c, parts, now, EndReasonEndedByCaller)
			finished = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finished {
		slog.InfoContext(ctx, "call ended",
			"call_id", c.ID, "ended_by", userID, "duration_seconds", c.DurationSeconds)
		s.teardownRoom(ctx, c.ChannelName)
		if s.metrics != nil {
			s.metrics.IncEnded(string(EndReasonEndedByCaller))
			s.metrics.ObserveDuration(float64(c.DurationSeconds))
		}
		s.publish(&event.CallEnded{
			CallID:          c.ID,
			EndedByID:       userID,
			EndReason:       string(c.EndReason),
			ChannelName:     c.ChannelName,
			Participants:    participantInfos(parts),
			DurationSeconds: c.DurationSeconds,
			EndedAt:         now,
		})
	}
	return &Snapshot{Call: c, Participants: parts}, nil
}

// Reject marks an invited participant as rejected. When every non-initiator
// participant has rejected, the call transitions directly to missed with
// end_reason rejected: the only path that bypasses connected.
func (s *Service) Reject(ctx context.Context, callID, userID string) (*Snapshot, error) {
	var missed bool
	now := s.now().UTC()

	c, parts, err := s.repo.Transition(ctx, callID, func(c *Call, parts []*Participant) error {
		if c.Terminal() {
			return ErrCallTerminal
		}
		p := findParticipant(parts, userID)
		if p == nil {
			return ErrNotParticipant
		}
		if p.Status != ParticipantInvited {
			return ErrParticipantState
		}

		p.Status = ParticipantRejected
		t := now
		p.LeftAt = &t

		// Count rows, not request order: concurrent rejects converge.
		if allNonInitiatorsRejected(c, parts) {
			finishCall(c, parts, now, EndReasonRejected)
			c.Status = StatusMissed
			missed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if missed {
		slog.InfoContext(ctx, "call missed", "call_id", c.ID, "end_reason", c.EndReason)
		s.teardownRoom(ctx, c.ChannelName)
		if s.metrics != nil {
			s.metrics.IncMissed()
		}
		s.publish(&event.CallMissed{
			CallID:       c.ID,
			ChannelName:  c.ChannelName,
			Participants: participantInfos(parts),
			MissedAt:     now,
		})
	}

	return &Snapshot{Call: c, Participants: parts}, nil
}

// Kick transitions a joined participant to kicked. Initiator-only, never
// self-targeting, and only while the call is initiated or connected. Kicking
// does not by itself end the call.
func (s *Service) Kick(ctx context.Context, callID, actorID, targetID string) (*Snapshot, error) {
	now := s.now().UTC()

	c, parts, err := s.repo.Transition(ctx, callID, func(c *Call, parts []*Participant) error {
		if c.Terminal() {
			return ErrCallTerminal
		}
		if actorID != c.InitiatorID {
			return ErrNotInitiator
		}
		if targetID == actorID {
			return ErrSelfKick
		}
		target := findParticipant(parts, targetID)
		if target == nil {
			return ErrNotParticipant
		}
		if target.Status != ParticipantJoined {
			return ErrParticipantState
		}

		target.Status = ParticipantKicked
		t := now
		target.LeftAt = &t
		if target.JoinedAt != nil {
			d := int(now.Sub(*target.JoinedAt).Seconds())
			if d < 0 {
				d = 0
			}
			target.DurationSeconds = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "participant kicked", "call_id", c.ID, "actor_id", actorID, "target_id", targetID)
	if s.rooms != nil {
		if err := s.rooms.RemoveParticipant(ctx, c.ChannelName, targetID); err != nil {
			slog.WarnContext(ctx, "failed to remove kicked participant from room",
				"channel", c.ChannelName, "target", targetID, "error", err)
		}
	}

	return &Snapshot{Call: c, Participants: parts}, nil
}

// Get returns the call snapshot for read access.
func (s *Service) Get(ctx context.Context, callID string) (*Snapshot, error) {
	c, err := s.repo.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	parts, err := s.repo.GetParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Call: c, Participants: parts}, nil
}

// History returns the conversation's calls newest-first.
func (s *Service) History(ctx context.Context, conversationID, beforeID string, limit int) ([]*Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListCallsForConversation(ctx, conversationID, beforeID, limit)
}

// SweepRinging transitions initiated calls older than ringTimeout to missed
// with end_reason ring_timeout. Returns the number of calls swept.
func (s *Service) SweepRinging(ctx context.Context, ringTimeout time.Duration) (int, error) {
	cutoff := s.now().Add(-ringTimeout).Unix()
	ids, err := s.repo.StaleInitiatedCallIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		now := s.now().UTC()
		c, parts, err := s.repo.Transition(ctx, id, func(c *Call, parts []*Participant) error {
			if c.Status != StatusInitiated {
				// Answered or ended while the sweep was running.
				return ErrCallTerminal
			}
			finishCall(c, parts, now, EndReasonRingTimeout)
			c.Status = StatusMissed
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrCallTerminal) || errors.Is(err, ErrCallNotFound) {
				continue
			}
			return swept, err
		}

		swept++
		s.teardownRoom(ctx, c.ChannelName)
		if s.metrics != nil {
			s.metrics.IncMissed()
		}
		s.publish(&event.CallMissed{
			CallID:       c.ID,
			ChannelName:  c.ChannelName,
			Participants: participantInfos(parts),
			MissedAt:     now,
		})
	}
	return swept, nil
}

// finishCall moves the call to ended, stamps ended_at, fixes the call
// duration, and force-marks every remaining joined participant as left.
func finishCall(c *Call, parts []*Participant, now time.Time, reason EndReason) {
	c.Status = StatusEnded
	c.EndReason = reason
	t := now
	c.EndedAt = &t
	if c.ConnectedAt != nil {
		d := int(now.Sub(*c.ConnectedAt).Seconds())
		if d < 0 {
			d = 0
		}
		c.DurationSeconds = d
	}

	for _, p := range parts {
		if p.Status == ParticipantJoined {
			p.markLeft(now)
		}
	}
}

func (s *Service) teardownRoom(ctx context.Context, channelName string) {
	if s.rooms == nil {
		return
	}
	if err := s.rooms.DeleteRoom(ctx, channelName); err != nil {
		slog.WarnContext(ctx, "failed to delete transport room", "channel", channelName, "error", err)
	}
}

func (s *Service) publish(e event.Event) {
	if s.notifier != nil {
		s.notifier.Publish(e)
	}
}

func findParticipant(parts []*Participant, userID string) *Participant {
	for _, p := range parts {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func countStatus(parts []*Participant, status ParticipantStatus) int {
	n := 0
	for _, p := range parts {
		if p.Status == status {
			n++
		}
	}
	return n
}

func allNonInitiatorsRejected(c *Call, parts []*Participant) bool {
	for _, p := range parts {
		if p.UserID == c.InitiatorID {
			continue
		}
		if p.Status != ParticipantRejected {
			return false
		}
	}
	return true
}

func participantInfos(parts []*Participant) []event.ParticipantInfo {
	infos := make([]event.ParticipantInfo, 0, len(parts))
	for _, p := range parts {
		info := event.ParticipantInfo{UserID: p.UserID, Status: string(p.Status)}
		if p.JoinedAt != nil {
			info.JoinedAt = p.JoinedAt.UTC().Format(time.RFC3339)
		}
		infos = append(infos, info)
	}
	return infos
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
