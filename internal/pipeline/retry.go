package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// RetryConfig controls backoff for URL source fetches.
type RetryConfig struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the stock fetch policy: three attempts with
// exponential backoff, retrying rate limits and server-side failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          3,
		InitialDelay:         time.Second,
		MaxDelay:             30 * time.Second,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// CalculateDelay returns the backoff before the given attempt (0-based),
// capped at MaxDelay.
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

func (c RetryConfig) retryableStatus(code int) bool {
	for _, retryable := range c.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// fetchWithRetry GETs a URL, retrying transport errors and retryable status
// codes with exponential backoff. On success the response body is returned
// and the caller owns closing it.
func fetchWithRetry(ctx context.Context, client *http.Client, url string, cfg RetryConfig) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.CalculateDelay(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("failed to GET %s: %w", url, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
		if !cfg.retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
