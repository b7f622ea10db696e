package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// LiveKitChecker implements health checking for the media transport server.
type LiveKitChecker struct {
	url    string
	client *http.Client
}

// NewLiveKitChecker creates a checker probing the server's base URL
// (e.g. "https://livekit.example.com"). The transport has no dedicated
// health endpoint, so reachability stands in for health.
func NewLiveKitChecker(url string) *LiveKitChecker {
	return &LiveKitChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck issues a GET against the server and requires a 2xx response.
func (l *LiveKitChecker) HealthCheck(ctx context.Context) error {
	if l.url == "" {
		return fmt.Errorf("livekit url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach livekit server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("livekit unhealthy: unexpected status code %d", resp.StatusCode)
	}
	return nil
}
