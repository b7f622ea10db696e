package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/tandem-social/tandem/internal/payment"
)

// maxWebhookBodyBytes caps webhook payloads at 64 KiB, Stripe's documented
// maximum event size.
const maxWebhookBodyBytes = 65536

// WebhookHandlers holds dependencies for payment provider webhook handlers.
type WebhookHandlers struct {
	webhookSecret string
	payments      *payment.Service
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(webhookSecret string, payments *payment.Service) *WebhookHandlers {
	return &WebhookHandlers{webhookSecret: webhookSecret, payments: payments}
}

// HandleStripeWebhook processes Stripe webhook events with signature
// verification. Replayed deliveries are detected inside the payment service
// and acknowledged without reapplying their effects.
// POST /webhooks/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "missing Stripe-Signature header")
		return
	}

	event, err := webhook.ConstructEvent(body, signature, h.webhookSecret)
	if err != nil {
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid signature")
		return
	}

	// Log event type and ID only, never the full payload.
	slog.InfoContext(ctx, "webhook event received", "event_type", event.Type, "event_id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		err = h.applyCompleted(r, event)
	case "checkout.session.expired":
		err = h.applyFailed(r, event, "checkout session expired")
	case "checkout.session.async_payment_failed":
		err = h.applyFailed(r, event, "async payment failed")
	default:
		slog.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type, "event_id", event.ID)
	}
	if err != nil {
		// Non-2xx makes the provider redeliver; replay protection keeps the
		// retry safe.
		slog.ErrorContext(ctx, "failed to process webhook event",
			"event_id", event.ID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandlers) applyCompleted(r *http.Request, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.ErrorContext(r.Context(), "failed to parse checkout session",
			"event_id", event.ID, "error", err)
		return nil
	}
	return h.payments.HandleCheckoutCompleted(r.Context(), event.ID, string(event.Type), session.ID)
}

func (h *WebhookHandlers) applyFailed(r *http.Request, event stripe.Event, reason string) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		slog.ErrorContext(r.Context(), "failed to parse checkout session",
			"event_id", event.ID, "error", err)
		return nil
	}
	return h.payments.HandleCheckoutFailed(r.Context(), event.ID, string(event.Type), session.ID, reason)
}
