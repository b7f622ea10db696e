package middleware

import (
	"net/http"
	"testing"
)

func TestCORSWithRequestIDChain(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           3600,
	}
	chain := RequestID(CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})))

	t.Run("preflight carries request id", func(t *testing.T) {
		rec := doCORS(chain, http.MethodOptions, "http://localhost:3000")
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("request id missing on preflight response")
		}
	})

	t.Run("allowed request reaches handler", func(t *testing.T) {
		rec := doCORS(chain, http.MethodGet, "http://localhost:3000")
		if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
			t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("allow-origin missing")
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("request id missing")
		}
	})

	t.Run("rejected origin still gets request id", func(t *testing.T) {
		rec := doCORS(chain, http.MethodGet, "http://evil.example")
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("request id missing on rejected request")
		}
	})
}
