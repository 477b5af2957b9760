package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PollHealth polls url with GET requests until it returns 200, up to
// maxRetries attempts spaced interval apart. Used by recursive startup
// to confirm the server process is ready before launching dependents.
func PollHealth(ctx context.Context, client *http.Client, url string, maxRetries int, interval time.Duration) error {
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err2 := client.Do(req)
			if err2 == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
				lastErr = fmt.Errorf("health check %s: status %d", url, resp.StatusCode)
			} else {
				lastErr = err2
			}
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("supervisor: %s did not become healthy after %d attempts: %w", url, maxRetries, lastErr)
}
