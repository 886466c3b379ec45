package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sink delivers a ticket payload downstream. Tests substitute a fake.
type Sink interface {
	Deliver(ctx context.Context, payload, idempotencyKey string) (statusCode int, err error)
}

const sinkTimeout = 10 * time.Second

// HTTPSink posts ticket payloads to the configured creation endpoint.
type HTTPSink struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPSink builds the live delivery sink.
func NewHTTPSink(endpoint, token string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: sinkTimeout},
	}
}

// Deliver implements Sink.
func (s *HTTPSink) Deliver(ctx context.Context, payload, idempotencyKey string) (int, error) {
	if s.endpoint == "" {
		return 0, fmt.Errorf("no ticket creation endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver ticket: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	return resp.StatusCode, nil
}
