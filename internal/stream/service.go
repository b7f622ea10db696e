package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-social/tandem/internal/event"
	"github.com/tandem-social/tandem/internal/rtc"
)

// Validation errors for stream operations.
var (
	// ErrNotOwner is returned when a lifecycle mutation comes from a user
	// other than the stream owner.
	ErrNotOwner = errors.New("only the stream owner may do this")

	// ErrInvalidPricing is returned when a paid stream is created with a
	// non-positive price or free window.
	ErrInvalidPricing = errors.New("paid streams need a positive price and free window")

	// ErrMissingTitle is returned when a stream is created without a title.
	ErrMissingTitle = errors.New("stream title is required")
)

// Notifier publishes fan-out events. Satisfied by *event.Notifier.
type Notifier interface {
	Publish(e event.Event)
}

// JoinResult carries everything a viewer needs to attach to the media
// channel after passing the access gate.
type JoinResult struct {
	Stream *Stream       `json:"stream"`
	Viewer *Viewer       `json:"viewer"`
	Token  string        `json:"token"`
	Expiry time.Time     `json:"expires_at"`
	Window *AccessWindow `json:"access_window,omitempty"`
}

// AccessWindow describes the remaining free viewing time on a paid stream.
// Absent for free streams and for viewers holding a completed payment.
type AccessWindow struct {
	FreeMinutes      int       `json:"free_minutes"`
	WindowStartedAt  time.Time `json:"window_started_at"`
	WindowExpiresAt  time.Time `json:"window_expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// Service implements the stream lifecycle and viewer flow. Join decisions
// run through the access gate; the repository keeps the viewer counter
// consistent with viewer rows under concurrency.
type Service struct {
	repo     Repository
	gate     *AccessGate
	tokens   *rtc.TokenService
	rooms    *rtc.RoomService // optional
	notifier Notifier         // optional
	metrics  *Metrics         // optional

	now func() time.Time
}

// NewService creates a stream service. rooms, notifier, and metrics may be nil.
func NewService(repo Repository, gate *AccessGate, tokens *rtc.TokenService, rooms *rtc.RoomService, notifier Notifier, metrics *Metrics) *Service {
	return &Service{
		repo:     repo,
		gate:     gate,
		tokens:   tokens,
		rooms:    rooms,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Create persists a new stream in the upcoming status. Paid streams must
// carry a positive price and a positive free window.
func (s *Service) Create(ctx context.Context, ownerID, title string, paid bool, priceCents int64, currency string, freeMinutes int) (*Stream, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrMissingTitle
	}
	if paid && (priceCents <= 0 || freeMinutes <= 0) {
		return nil, ErrInvalidPricing
	}
	if !paid {
		priceCents = 0
		currency = ""
		freeMinutes = 0
	}
	if paid && currency == "" {
		currency = "usd"
	}

	st := &Stream{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		ChannelName: "stream-" + uuid.New().String(),
		Title:       title,
		Status:      StatusUpcoming,
		IsPaid:      paid,
		PriceCents:  priceCents,
		Currency:    strings.ToLower(currency),
		FreeMinutes: freeMinutes,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateStream(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// GoLive transitions the stream to live and issues the owner's publisher
// token. Owner-only; ErrStreamState unless the stream is upcoming.
func (s *Service) GoLive(ctx context.Context, streamID, ownerID string) (*Stream, *rtc.SessionCredential, error) {
	st, err := s.repo.GetStream(ctx, streamID)
	if err != nil {
		return nil, nil, err
	}
	if st.OwnerID != ownerID {
		return nil, nil, ErrNotOwner
	}

	cred, err := s.tokens.IssueToken(st.ChannelName, ownerID, rtc.RolePublisher)
	if err != nil {
		return nil, nil, err
	}

	st, err = s.repo.SetLive(ctx, streamID, s.now().UTC())
	if err != nil {
		return nil, nil, err
	}

	if s.rooms != nil {
		if _, err := s.rooms.CreateRoom(ctx, st.ChannelName, 0, 0); err != nil {
			slog.WarnContext(ctx, "failed to create transport room", "channel", st.ChannelName, "error", err)
		}
	}
	slog.InfoContext(ctx, "stream live", "stream_id", st.ID, "owner_id", ownerID, "paid", st.IsPaid)
	if s.metrics != nil {
		s.metrics.IncStarted()
	}
	return st, cred, nil
}

// End transitions the stream to ended, closing every active viewer row.
// Owner-only; ErrStreamState unless the stream is live.
func (s *Service) End(ctx context.Context, streamID, ownerID string) (*Stream, error) {
	st, err := s.repo.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if st.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	st, err = s.repo.SetEnded(ctx, streamID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if s.rooms != nil {
		if err := s.rooms.DeleteRoom(ctx, st.ChannelName); err != nil {
			slog.WarnContext(ctx, "failed to delete transport room", "channel", st.ChannelName, "error", err)
		}
	}
	slog.InfoContext(ctx, "stream ended", "stream_id", st.ID, "owner_id", ownerID)
	if s.metrics != nil {
		s.metrics.IncEnded()
		s.metrics.ClearCurrentViewers(st.ID)
	}
	return st, nil
}

// Join admits a viewer through the access gate, records the viewer row, and
// issues a subscriber token. Paid streams deny with ErrPaymentRequired once
// the free window, anchored at the user's first ever join, is exhausted.
func (s *Service) Join(ctx context.Context, streamID, userID string) (*JoinResult, error) {
	st, err := s.repo.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}

	if err := s.gate.Authorize(ctx, st, userID); err != nil {
		if errors.Is(err, ErrPaymentRequired) && s.metrics != nil {
			s.metrics.IncPaymentRequired()
		}
		return nil, err
	}

	role := rtc.RoleSubscriber
	if userID == st.OwnerID {
		role = rtc.RolePublisher
	}
	cred, err := s.tokens.IssueToken(st.ChannelName, userID, role)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	v := &Viewer{
		StreamID:   streamID,
		UserID:     userID,
		SessionUID: cred.SessionUID,
		Token:      cred.Token,
		JoinedAt:   now,
	}
	st, err = s.repo.AddViewer(ctx, v)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncJoins()
		s.metrics.SetCurrentViewers(st.ID, st.CurrentViewers)
	}
	s.publish(&event.ViewerJoined{
		StreamID:       st.ID,
		UserID:         userID,
		ChannelName:    st.ChannelName,
		CurrentViewers: st.CurrentViewers,
		JoinedAt:       now,
	})

	result := &JoinResult{Stream: st, Viewer: v, Token: cred.Token, Expiry: cred.ExpiresAt}
	if window, err := s.accessWindow(ctx, st, userID, now); err == nil {
		result.Window = window
	}
	return result, nil
}

// Leave closes the viewer's active row. Idempotent: leaving twice, or
// leaving a stream never joined, is a no-op.
func (s *Service) Leave(ctx context.Context, streamID, userID string) error {
	now := s.now().UTC()
	removed, st, err := s.repo.RemoveViewer(ctx, streamID, userID, now)
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			return nil
		}
		return err
	}
	if !removed {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncLeaves()
		s.metrics.SetCurrentViewers(st.ID, st.CurrentViewers)
	}
	s.publish(&event.ViewerLeft{
		StreamID:       st.ID,
		UserID:         userID,
		ChannelName:    st.ChannelName,
		CurrentViewers: st.CurrentViewers,
		LeftAt:         now,
	})
	return nil
}

// Get returns a stream by ID.
func (s *Service) Get(ctx context.Context, streamID string) (*Stream, error) {
	return s.repo.GetStream(ctx, streamID)
}

// AuthorizeViewer resolves the stream and runs the access gate. Satisfies
// the chat service's stream authorizer so stream chats share the paywall.
func (s *Service) AuthorizeViewer(ctx context.Context, streamID, userID string) error {
	st, err := s.repo.GetStream(ctx, streamID)
	if err != nil {
		return err
	}
	return s.gate.Authorize(ctx, st, userID)
}

// Viewers returns the stream's active viewers ordered by join time.
func (s *Service) Viewers(ctx context.Context, streamID string, limit, offset int) ([]*Viewer, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ActiveViewers(ctx, streamID, limit, offset)
}

// ListLive returns currently live streams newest-first.
func (s *Service) ListLive(ctx context.Context, limit int) ([]*Stream, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListLive(ctx, limit)
}

// accessWindow computes the remaining free window for a paid viewer without
// a completed payment; nil for every other case.
func (s *Service) accessWindow(ctx context.Context, st *Stream, userID string, now time.Time) (*AccessWindow, error) {
	if !st.IsPaid {
		return nil, nil
	}
	paid, err := s.gate.payments.HasCompletedPayment(ctx, st.ID, userID)
	if err != nil || paid {
		return nil, err
	}
	first, err := s.repo.FirstJoinedAt(ctx, st.ID, userID)
	if err != nil || first == nil {
		return nil, err
	}

	expires := first.Add(time.Duration(st.FreeMinutes) * time.Minute)
	remaining := int(expires.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &AccessWindow{
		FreeMinutes:      st.FreeMinutes,
		WindowStartedAt:  first.UTC(),
		WindowExpiresAt:  expires.UTC(),
		RemainingSeconds: remaining,
	}, nil
}

func (s *Service) publish(e event.Event) {
	if s.notifier != nil {
		s.notifier.Publish(e)
	}
}
