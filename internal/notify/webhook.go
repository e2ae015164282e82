package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Webhook posts each event as JSON to a fixed URL.
type Webhook struct {
	URL     string
	HTTP    *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a webhook sink limited to rps requests per second.
// rps <= 0 disables limiting.
func NewWebhook(url string, rps float64, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	w := &Webhook{URL: url, HTTP: client}
	if rps > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return w
}

func (s *Webhook) Notify(ctx context.Context, ev Event) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", ev.Type)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// HTTPError reports a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webhook: http status %d", e.StatusCode)
}
