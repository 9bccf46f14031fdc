package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowchartsman/retry"
)

// matchmakerHealthClient probes the Matchmaker's /health endpoint
// with a bounded retry/backoff; a failed probe degrades the Factory's
// own /health rollup.
type matchmakerHealthClient struct {
	baseURL string
	client  *http.Client
}

func newMatchmakerHealthClient(baseURL string, timeout time.Duration) *matchmakerHealthClient {
	return &matchmakerHealthClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Probe performs up to 3 attempts with exponential backoff, returning
// the last error if the Matchmaker never answers with 2xx.
func (m *matchmakerHealthClient) Probe(ctx context.Context) error {
	var lastErr error
	r := retry.NewRetrier(3, 100*time.Millisecond, 2*time.Second)
	err := r.RunContext(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
		if err != nil {
			lastErr = err
			return err
		}
		resp, err := m.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("matchmaker health returned status %d", resp.StatusCode)
			return lastErr
		}
		return nil
	})
	if err != nil {
		return lastErr
	}
	return nil
}
