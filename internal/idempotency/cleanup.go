package idempotency

import (
	"log/slog"
	"time"
)

// DefaultExpiry is how long replay records stay usable. Stripe retries
// and client refreshes land well inside a day.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys deletes records older than expiry and reports the count.
func CleanupOldKeys(repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(expiry)
	if err != nil {
		slog.Error("idempotency cleanup failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		slog.Info("expired idempotency keys removed", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup sweeps expired records once at startup and then on
// every tick until stopChan closes. It blocks; run it in a goroutine.
func RunPeriodicCleanup(repo Repository, interval, expiry time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, _ = CleanupOldKeys(repo, expiry)

	for {
		select {
		case <-ticker.C:
			_, _ = CleanupOldKeys(repo, expiry)
		case <-stopChan:
			slog.Info("idempotency cleanup stopped")
			return
		}
	}
}
