package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func TestProfilingDisabledPassesThrough(t *testing.T) {
	h := Profiling(false, "development")(okHandler("ok"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", nil))

	if got := rec.Body.String(); got != "ok" {
		t.Errorf("body = %q, want passthrough to wrapped handler", got)
	}
}

func TestProfilingServesIndex(t *testing.T) {
	h := Profiling(true, "development")(okHandler("unreachable"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pprof") {
		t.Errorf("expected pprof index page, got %q", rec.Body.String())
	}
}

func TestProfilingNamedProfiles(t *testing.T) {
	h := Profiling(true, "development")(okHandler("unreachable"))

	for _, path := range []string{"/debug/pprof/heap", "/debug/pprof/goroutine"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
		if rec.Body.String() == "unreachable" {
			t.Errorf("%s: fell through to wrapped handler", path)
		}
	}
}

func TestProfilingRefusedInProduction(t *testing.T) {
	h := Profiling(true, "production")(okHandler("ok"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", nil))

	if got := rec.Body.String(); got != "ok" {
		t.Errorf("body = %q, want passthrough despite enabled flag", got)
	}
}

func TestProfilingIgnoresOtherRoutes(t *testing.T) {
	h := Profiling(true, "development")(okHandler("streams"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/streams", nil))

	if got := rec.Body.String(); got != "streams" {
		t.Errorf("body = %q, want normal route handling", got)
	}
}
