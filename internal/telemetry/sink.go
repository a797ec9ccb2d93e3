package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sink delivers event batches to a telemetry destination. Delivery is
// best-effort; errors are retried a bounded number of times and then the
// batch is dropped.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

const (
	sinkTimeout     = 5 * time.Second
	sinkMaxAttempts = 3
)

// HTTPSink posts event batches to the dashboard's fire-and-forget endpoint.
type HTTPSink struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewHTTPSink creates a sink for the given base URL.
func NewHTTPSink(baseURL, apiKey string) *HTTPSink {
	return &HTTPSink{
		URL:    strings.TrimRight(baseURL, "/") + "/v1/events",
		APIKey: apiKey,
		Client: &http.Client{Timeout: sinkTimeout},
	}
}

// Deliver posts one batch, retrying server errors with a linear pause.
// Client errors (4xx) are not retried: the payload will not get better.
func (s *HTTPSink) Deliver(ctx context.Context, events []Event) error {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < sinkMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.APIKey != "" {
			req.Header.Set("X-API-Key", s.APIKey)
		}

		resp, err := s.client().Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("telemetry sink rejected batch: HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("telemetry sink error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("telemetry delivery failed after %d attempts: %w", sinkMaxAttempts, lastErr)
}

func (s *HTTPSink) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}
