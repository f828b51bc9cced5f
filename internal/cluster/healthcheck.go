package cluster

import (
	"context"
	"fmt"
	"net/http"
)

const defaultHealthEndpoint = "/health"

// HealthChecker defines methods for checking node health
type HealthChecker interface {
	Check(ctx context.Context, address string) error
}

// HTTPHealthChecker implements HealthChecker using HTTP
type HTTPHealthChecker struct {
	client   *http.Client
	endpoint string
}

// NewHTTPHealthChecker creates a new HTTPHealthChecker instance
func NewHTTPHealthChecker(client *http.Client) *HTTPHealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHealthChecker{client: client, endpoint: defaultHealthEndpoint}
}

// Check performs a health check on the specified address.
// Any 2xx response counts as healthy.
func (hc *HTTPHealthChecker) Check(ctx context.Context, address string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s%s", address, hc.endpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check failed: status code %d", resp.StatusCode)
	}

	return nil
}
