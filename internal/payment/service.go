package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Validation errors for checkout operations.
var (
	// ErrStreamNotPaid is returned when starting checkout for a free stream.
	ErrStreamNotPaid = errors.New("stream does not require payment")

	// ErrAlreadyPaid is returned when the user already holds a completed
	// payment for the stream.
	ErrAlreadyPaid = errors.New("user already paid for this stream")
)

// StreamPricing is what the service needs to know about a stream to open a
// checkout. Resolved by the caller from the stream catalog.
type StreamPricing struct {
	StreamID    string
	Title       string
	IsPaid      bool
	AmountCents int64
	Currency    string
}

// Service opens checkouts and applies webhook outcomes to payment records.
type Service struct {
	repo     Repository
	webhooks WebhookRepository
	gateway  Gateway

	successURL string
	cancelURL  string

	now func() time.Time
}

// NewService creates a payment service.
func NewService(repo Repository, webhooks WebhookRepository, gateway Gateway, successURL, cancelURL string) *Service {
	return &Service{
		repo:       repo,
		webhooks:   webhooks,
		gateway:    gateway,
		successURL: successURL,
		cancelURL:  cancelURL,
		now:        time.Now,
	}
}

// StartCheckout opens a provider checkout for the stream and records a
// pending payment keyed by the provider reference.
func (s *Service) StartCheckout(ctx context.Context, pricing StreamPricing, userID string) (*CheckoutIntent, error) {
	if !pricing.IsPaid || pricing.AmountCents <= 0 {
		return nil, ErrStreamNotPaid
	}

	paid, err := s.repo.HasCompletedPayment(ctx, pricing.StreamID, userID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, ErrAlreadyPaid
	}

	reference, url, err := s.gateway.CreateCheckout(&CheckoutParams{
		StreamID:    pricing.StreamID,
		StreamTitle: pricing.Title,
		UserID:      userID,
		AmountCents: pricing.AmountCents,
		Currency:    pricing.Currency,
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	p := &StreamPayment{
		StreamID:    pricing.StreamID,
		UserID:      userID,
		AmountCents: pricing.AmountCents,
		Currency:    pricing.Currency,
		Provider:    ProviderStripe,
		Reference:   reference,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreatePending(ctx, p); err != nil {
		return nil, err
	}

	return &CheckoutIntent{PaymentID: p.ID, Reference: reference, URL: url}, nil
}

// HandleCheckoutCompleted applies a settled checkout to its payment record.
// The event is recorded as processed only after the payment transition
// succeeds: a transient MarkCompleted failure returns an error with the
// event unrecorded, so the provider's redelivery retries the transition
// instead of short-circuiting on the replay guard. The transitions
// themselves are idempotent, so a redelivery that races the record is a
// no-op either way.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, eventID, eventType, reference string) error {
	seen, err := s.webhooks.HasProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if seen {
		slog.InfoContext(ctx, "skipping replayed webhook event", "event_id", eventID)
		return nil
	}

	p, err := s.repo.MarkCompleted(ctx, reference, s.now().UTC())
	switch {
	case err == nil:
		slog.InfoContext(ctx, "payment completed",
			"payment_id", p.ID, "stream_id", p.StreamID, "user_id", p.UserID)
	case errors.Is(err, ErrPaymentNotFound):
		// Checkout opened outside this system; nothing to settle.
		slog.WarnContext(ctx, "webhook for unknown payment reference", "reference", reference)
	case errors.Is(err, ErrPaymentTerminal):
		// Completion after failure; redelivery cannot change the outcome.
		slog.WarnContext(ctx, "completion webhook for a failed payment", "reference", reference)
	default:
		return err
	}

	s.recordDelivery(ctx, eventID, eventType)
	return nil
}

// HandleCheckoutFailed marks the referenced payment failed. Ordering
// mirrors HandleCheckoutCompleted: effect first, replay record second.
func (s *Service) HandleCheckoutFailed(ctx context.Context, eventID, eventType, reference, reason string) error {
	seen, err := s.webhooks.HasProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	if _, err := s.repo.MarkFailed(ctx, reference, reason); err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
		case errors.Is(err, ErrPaymentTerminal):
			// The payment completed before this failure arrived; the
			// completed state wins.
			slog.WarnContext(ctx, "failure webhook for a completed payment", "reference", reference)
		default:
			return err
		}
	}

	s.recordDelivery(ctx, eventID, eventType)
	return nil
}

// recordDelivery dedupes future redeliveries of an already-applied
// event. A failure to record is logged rather than returned: the
// payment transitions are idempotent, so an unrecorded redelivery
// re-applies a no-op.
func (s *Service) recordDelivery(ctx context.Context, eventID, eventType string) {
	if err := s.webhooks.RecordEvent(ctx, eventID, eventType); err != nil && !errors.Is(err, ErrEventAlreadyProcessed) {
		slog.WarnContext(ctx, "failed to record webhook event", "event_id", eventID, "error", err)
	}
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, paymentID string) (*StreamPayment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

// HasCompletedPayment reports whether the user paid for the stream.
// Satisfies the stream access gate's payment check.
func (s *Service) HasCompletedPayment(ctx context.Context, streamID, userID string) (bool, error) {
	return s.repo.HasCompletedPayment(ctx, streamID, userID)
}
