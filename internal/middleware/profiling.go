package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// Profiling serves the net/http/pprof handlers under /debug/pprof/ when
// enabled. Profiling exposes runtime internals, so the middleware refuses
// to activate when env names a production environment regardless of the
// enabled flag.
func Profiling(enabled bool, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		if env == "production" || env == "prod" {
			slog.Error("refusing to enable pprof endpoints in production", "env", env)
			return next
		}

		slog.Warn("pprof endpoints enabled at /debug/pprof/", "env", env)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}
			switch strings.TrimPrefix(r.URL.Path, "/debug/pprof/") {
			case "cmdline":
				pprof.Cmdline(w, r)
			case "profile":
				pprof.Profile(w, r)
			case "symbol":
				pprof.Symbol(w, r)
			case "trace":
				pprof.Trace(w, r)
			default:
				// Index also dispatches named profiles such as heap and
				// goroutine by path suffix.
				pprof.Index(w, r)
			}
		})
	}
}
