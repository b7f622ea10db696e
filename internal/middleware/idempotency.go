package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tandem-social/tandem/internal/idempotency"
)

// IdempotencyKeyHeader names the header clients send to make a checkout
// request safely retryable.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the request's idempotency key on the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey returns the key stored by the middleware, or "".
func GetIdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key
}

// RouteMatcher decides which paths require an idempotency key.
type RouteMatcher func(path string) bool

// CheckoutRouteMatcher covers POST /streams/{id}/checkout. Checkout
// creates a payment record, so a retried request must not run twice.
func CheckoutRouteMatcher() RouteMatcher {
	return func(path string) bool {
		return strings.HasPrefix(path, "/streams/") && strings.HasSuffix(path, "/checkout")
	}
}

// replayWriter tees the response body so a successful checkout can be
// cached for replay.
type replayWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newReplayWriter(w http.ResponseWriter) *replayWriter {
	return &replayWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *replayWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *replayWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b)
	return n, err
}

// Unwrap lets UpdateResponseContext walk past this wrapper.
func (w *replayWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *replayWriter) success() bool {
	return w.status >= 200 && w.status < 300
}

func rejectIdempotency(w http.ResponseWriter, r *http.Request, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, `{"error":"`+code+`","message":"`+message+`"}`)
}

// IdempotencyMiddleware makes POSTs to matched routes replay-safe. The
// first request with a given key runs the handler and, when it
// succeeds, caches the response; a retry with the same key gets the
// cached response back instead of a second execution. Non-2xx
// responses are never cached, so a failed checkout can be retried.
func IdempotencyMiddleware(repo idempotency.Repository, matches RouteMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !matches(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			switch err := idempotency.ValidateKey(key); err {
			case nil:
			case idempotency.ErrInvalidKey:
				rejectIdempotency(w, r, "missing_idempotency_key",
					"Idempotency-Key header is required for this request")
				return
			case idempotency.ErrKeyTooLong:
				rejectIdempotency(w, r, "idempotency_key_too_long",
					"Idempotency-Key exceeds maximum length of 64 characters")
				return
			default:
				rejectIdempotency(w, r, "invalid_idempotency_key",
					"Invalid Idempotency-Key format")
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			cached, err := repo.Get(key)
			switch {
			case err == nil:
				slog.InfoContext(ctx, "replaying cached checkout response",
					"key", key, "status", cached.ResponseStatusCode)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cached.ResponseStatusCode)
				io.WriteString(w, cached.ResponseBody)
				return
			case err != idempotency.ErrKeyNotFound:
				// The store is unavailable. Running the handler without
				// replay protection beats failing every checkout.
				slog.ErrorContext(ctx, "idempotency lookup failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			rw := newReplayWriter(w)
			next.ServeHTTP(rw, r)
			if !rw.success() {
				return
			}

			body := rw.body.String()
			record := &idempotency.IdempotencyKey{
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				Status:             idempotency.StatusCompleted,
				ResponseBody:       body,
				ResponseStatusCode: rw.status,
			}
			if err := repo.Store(record); err != nil {
				// The response already went out; the retry will just
				// re-run the handler.
				slog.ErrorContext(ctx, "idempotency store failed", "key", key, "error", err)
			}
		})
	}
}
