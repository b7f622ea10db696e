// Package stream provides the access gate deciding whether a viewer may
// join or keep interacting with a stream.
package stream

import (
	"context"
	"errors"
	"time"
)

// ErrPaymentRequired is returned when a paid stream's free window is
// exhausted and the user has no completed payment. Mapped to HTTP 402 at
// the API layer.
var ErrPaymentRequired = errors.New("payment required to access this stream")

// ErrStreamNotLive is returned when joining a stream that is not broadcasting.
var ErrStreamNotLive = errors.New("stream is not live")

// PaymentChecker reports whether a user holds a completed payment for a
// stream. Implemented by the payment repository. A completed payment is
// permanent proof of access, so this is consulted on every decision.
type PaymentChecker interface {
	HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error)
}

// AccessGate decides join/continue access for stream viewers.
type AccessGate struct {
	repo     Repository
	payments PaymentChecker
	now      func() time.Time
}

// NewAccessGate creates an access gate over the given repositories.
func NewAccessGate(repo Repository, payments PaymentChecker) *AccessGate {
	return &AccessGate{repo: repo, payments: payments, now: time.Now}
}

// CanJoin reports whether the user may join (or continue watching) the
// stream. Free streams admit anyone while live; paid streams admit holders
// of a completed payment, or anyone still inside the free window.
func (g *AccessGate) CanJoin(ctx context.Context, s *Stream, userID string) (bool, error) {
	if !s.Live() {
		return false, nil
	}
	if !s.IsPaid {
		return true, nil
	}

	paid, err := g.payments.HasCompletedPayment(ctx, s.ID, userID)
	if err != nil {
		return false, err
	}
	if paid {
		return true, nil
	}

	exceeded, err := g.HasExceededFreeWindow(ctx, s, userID)
	if err != nil {
		return false, err
	}
	return !exceeded, nil
}

// HasExceededFreeWindow reports whether the user's free viewing time on a
// paid stream is spent. Elapsed time is measured from the FIRST viewer
// row's joined_at, so rejoining never resets the window; the result is
// monotonic in time for a given (stream, user).
func (g *AccessGate) HasExceededFreeWindow(ctx context.Context, s *Stream, userID string) (bool, error) {
	if !s.IsPaid {
		return false, nil
	}

	first, err := g.repo.FirstJoinedAt(ctx, s.ID, userID)
	if err != nil {
		return false, err
	}
	if first == nil {
		// Never joined: the window has not started.
		return false, nil
	}

	window := time.Duration(s.FreeMinutes) * time.Minute
	return g.now().Sub(*first) >= window, nil
}

// Authorize returns nil when the user may join/interact, ErrStreamNotLive
// when the stream is not broadcasting, and ErrPaymentRequired when the paid
// gate denies access.
func (g *AccessGate) Authorize(ctx context.Context, s *Stream, userID string) error {
	if !s.Live() {
		return ErrStreamNotLive
	}
	ok, err := g.CanJoin(ctx, s, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPaymentRequired
	}
	return nil
}
