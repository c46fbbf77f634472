package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
)

// retryableStatus reports whether a response status warrants a retry.
// Rate limits and server-side failures are retried; client errors are not.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// doWithRetry executes an HTTP request with exponential backoff. The request
// factory is invoked per attempt so the body reader is fresh each time.
func doWithRetry(ctx context.Context, client *http.Client, newRequest func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("retryable status %s", resp.Status)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)
}
