package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrInvalidGatewayURL is returned when the gateway base URL is malformed.
var ErrInvalidGatewayURL = errors.New("invalid SSE gateway URL")

// EventPayload is the event part of a gateway send command. Data is the
// JSON-encoded event body.
type EventPayload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// SendRequest is the body of POST /internal/send. A nil Event with Close
// set tears the connection down.
type SendRequest struct {
	Token string        `json:"token"`
	Event *EventPayload `json:"event"`
	Close bool          `json:"close"`
}

// GatewayClient issues send commands to the gateway.
type GatewayClient struct {
	sendURL string
	http    *http.Client
}

// NewGatewayClient validates baseURL and returns a client for it.
func NewGatewayClient(baseURL string, client *http.Client) (*GatewayClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGatewayURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidGatewayURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidGatewayURL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &GatewayClient{
		sendURL: u.JoinPath("internal", "send").String(),
		http:    client,
	}, nil
}

// SendURL returns the full URL of the send endpoint.
func (c *GatewayClient) SendURL() string {
	return c.sendURL
}

// Send posts req and returns the response status code. An error means the
// request never produced a response.
func (c *GatewayClient) Send(ctx context.Context, req SendRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
