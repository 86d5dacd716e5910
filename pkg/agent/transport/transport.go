// Package transport is the thin HTTP client the SDK uses to deliver envelopes directly to a peer's endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cc4me/cc4me/pkg/agent/messaging"
)

// DefaultTimeout bounds one delivery POST attempt.
const DefaultTimeout = 5 * time.Second

// Client delivers envelopes to peer-controlled endpoints over plain HTTP POST.
type Client struct {
	http *http.Client
}

// New constructs a delivery Client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Deliver POSTs env as JSON to endpoint + "/messages". A non-2xx response is a delivery failure.
func (c *Client) Deliver(ctx context.Context, endpoint string, env messaging.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver envelope: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery rejected with status %d", resp.StatusCode)
	}
	return nil
}
