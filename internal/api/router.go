package api

import "net/http"

// RouterConfig wires handlers and route-scoped middleware into the mux.
// Auth is required; Idempotency and Metrics are optional.
type RouterConfig struct {
	Auth        func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler

	Conversations *ConversationHandlers
	Calls         *CallHandlers
	Streams       *StreamHandlers
	Payments      *PaymentHandlers
	Webhooks      *WebhookHandlers
	WS            *WSHandlers
	Health        *HealthHandlers
	Metrics       http.Handler
}

// NewRouter builds the API route table. Cross-cutting middleware (request
// ID, logging, metrics, CORS, rate limiting) wraps the returned mux at the
// composition root; only auth and idempotency are applied per route here.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler {
		return cfg.Auth(h)
	}

	// Conversations and messages.
	mux.Handle("POST /conversations", authed(cfg.Conversations.Create))
	mux.Handle("GET /conversations/{id}", authed(cfg.Conversations.Get))
	mux.Handle("POST /conversations/{id}/messages", authed(cfg.Conversations.Send))
	mux.Handle("GET /conversations/{id}/messages", authed(cfg.Conversations.History))
	mux.Handle("DELETE /messages/{id}", authed(cfg.Conversations.Delete))

	// Calls.
	mux.Handle("POST /conversations/{id}/calls", authed(cfg.Calls.Initiate))
	mux.Handle("GET /conversations/{id}/calls", authed(cfg.Calls.History))
	mux.Handle("GET /calls/{id}", authed(cfg.Calls.Get))
	mux.Handle("POST /calls/{id}/answer", authed(cfg.Calls.Answer))
	mux.Handle("POST /calls/{id}/end", authed(cfg.Calls.End))
	mux.Handle("POST /calls/{id}/reject", authed(cfg.Calls.Reject))
	mux.Handle("POST /calls/{id}/kick", authed(cfg.Calls.Kick))

	// Streams. Stream detail and the live listing are public.
	mux.Handle("POST /streams", authed(cfg.Streams.Create))
	mux.HandleFunc("GET /streams/live", cfg.Streams.ListLive)
	mux.HandleFunc("GET /streams/{id}", cfg.Streams.Get)
	mux.Handle("POST /streams/{id}/live", authed(cfg.Streams.GoLive))
	mux.Handle("POST /streams/{id}/end", authed(cfg.Streams.End))
	mux.Handle("POST /streams/{id}/join", authed(cfg.Streams.Join))
	mux.Handle("POST /streams/{id}/leave", authed(cfg.Streams.Leave))
	mux.Handle("GET /streams/{id}/viewers", authed(cfg.Streams.Viewers))

	// Payments. Checkout replays safely under an Idempotency-Key.
	checkout := authed(cfg.Payments.Checkout)
	if cfg.Idempotency != nil {
		checkout = cfg.Idempotency(checkout)
	}
	mux.Handle("POST /streams/{id}/checkout", checkout)
	mux.Handle("GET /payments/{id}", authed(cfg.Payments.Get))

	// Event subscriptions.
	mux.Handle("GET /ws", authed(cfg.WS.Subscribe))

	// Webhooks authenticate by signature, not bearer token.
	mux.HandleFunc("POST /webhooks/stripe", cfg.Webhooks.HandleStripeWebhook)

	// Probes and metrics.
	mux.HandleFunc("GET /healthz", cfg.Health.Health)
	mux.HandleFunc("GET /readyz", cfg.Health.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return mux
}
