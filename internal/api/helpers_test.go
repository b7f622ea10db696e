package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tandem-social/tandem/internal/call"
	"github.com/tandem-social/tandem/internal/chat"
	"github.com/tandem-social/tandem/internal/event"
	"github.com/tandem-social/tandem/internal/middleware"
	"github.com/tandem-social/tandem/internal/payment"
	"github.com/tandem-social/tandem/internal/rtc"
	"github.com/tandem-social/tandem/internal/stream"
)

const testWebhookSecret = "whsec_test_secret"

// fakeGateway opens checkouts without touching the provider.
type fakeGateway struct {
	fail bool
}

func (g *fakeGateway) CreateCheckout(p *payment.CheckoutParams) (string, string, error) {
	if g.fail {
		return "", "", errors.New("gateway unavailable")
	}
	return "cs_test_" + p.StreamID + "_" + p.UserID, "https://pay.example.test/session", nil
}

// testAuth stands in for the bearer token middleware: the X-User header
// becomes the authenticated user.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User")
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(middleware.SetUserID(r.Context(), userID)))
	})
}

type fixture struct {
	mux         *http.ServeMux
	chats       *chat.Service
	calls       *call.Service
	streams     *stream.Service
	payments    *payment.Service
	broadcaster *event.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := rtc.NewTokenService("devkey", "devsecret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	chatRepo := chat.NewInMemoryRepository()
	streamRepo := stream.NewInMemoryRepository()
	payRepo := payment.NewInMemoryRepository()

	paySvc := payment.NewService(payRepo, payment.NewInMemoryWebhookRepository(), &fakeGateway{},
		"https://app.example.test/success", "https://app.example.test/cancel")
	gate := stream.NewAccessGate(streamRepo, paySvc)
	streamSvc := stream.NewService(streamRepo, gate, tokens, nil, nil, nil)
	chatSvc := chat.NewService(chatRepo, streamSvc, nil)
	callSvc := call.NewService(call.NewInMemoryRepository(), tokens, nil, chatRepo, nil, nil)
	broadcaster := event.NewBroadcaster()

	mux := NewRouter(RouterConfig{
		Auth:          testAuth,
		Conversations: NewConversationHandlers(chatSvc),
		Calls:         NewCallHandlers(callSvc),
		Streams:       NewStreamHandlers(streamSvc, chatSvc),
		Payments:      NewPaymentHandlers(paySvc, streamSvc),
		Webhooks:      NewWebhookHandlers(testWebhookSecret, paySvc),
		WS:            NewWSHandlers(broadcaster, chatSvc),
		Health:        NewHealthHandlers(HealthHandlersConfig{}),
	})

	return &fixture{
		mux:         mux,
		chats:       chatSvc,
		calls:       callSvc,
		streams:     streamSvc,
		payments:    paySvc,
		broadcaster: broadcaster,
	}
}

// do runs a request through the full route table. An empty userID sends the
// request unauthenticated.
func (f *fixture) do(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if userID != "" {
		req.Header.Set("X-User", userID)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

// decode unmarshals a recorded JSON response body into dst.
func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
}

// errorCode extracts the error code from a standard error response.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, w, &resp)
	return resp.Error.Code
}
