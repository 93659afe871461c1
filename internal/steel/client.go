// Package steel is a client for the Steel browser session service: session
// lifecycle over REST plus CDP connection URL construction.
package steel

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
	"time"

	"github.com/skipperhq/skipper/internal/observability"
)

const apiKeyHeader = "steel-api-key"

// Session is the service's view of one browser session.
type Session struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CreatedAt        string `json:"createdAt,omitempty"`
	WebsocketURL     string `json:"websocketUrl,omitempty"`
	DebugURL         string `json:"debugUrl,omitempty"`
	SessionViewerURL string `json:"sessionViewerUrl,omitempty"`
}

// Dimensions sizes the session's browser viewport.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CreateOptions configures a new session.
type CreateOptions struct {
	// Dimensions, when non-nil, fixes the viewport size.
	Dimensions *Dimensions

	// Timeout is the session's idle lifetime.
	Timeout time.Duration
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("steel api: %s (status %d)", e.Message, e.StatusCode)
}

// Client talks to a Steel deployment.
type Client struct {
	apiURL     string
	connectURL string
	apiKey     string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewClient creates a client. apiURL is the REST base (e.g.
// http://localhost:3000), connectURL the CDP websocket base (e.g.
// ws://localhost:3000).
func NewClient(apiURL, connectURL, apiKey string, logger *observability.Logger) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		connectURL: strings.TrimRight(connectURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// CreateSession provisions a new browser session.
func (c *Client) CreateSession(ctx context.Context, opts CreateOptions) (*Session, error) {
	body := map[string]any{}
	if opts.Dimensions != nil {
		body["dimensions"] = opts.Dimensions
	}
	if opts.Timeout > 0 {
		body["timeout"] = opts.Timeout.Milliseconds()
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &session); err != nil {
		return nil, err
	}
	c.logger.Info("created browser session", "session_id", session.ID)
	return &session, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ReleaseSession stops a session. Releasing a session that is already
// stopped succeeds; release is idempotent from the caller's view.
func (c *Client) ReleaseSession(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/release", nil, nil)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "Session already stopped") {
		c.logger.Debug("release on stopped session", "session_id", id)
		return nil
	}
	return err
}

// ConnectURL builds the CDP endpoint Playwright connects to for a session.
// Empty when no remote connect URL is configured; callers treat that as the
// local-browser case.
func (c *Client) ConnectURL(sessionID string) string {
	if c.connectURL == "" {
		return ""
	}
	return fmt.Sprintf("%s?apiKey=%s&sessionId=%s", c.connectURL, url.QueryEscape(c.apiKey), url.QueryEscape(sessionID))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("steel request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// extractMessage pulls the error message out of a JSON error body, falling
// back to the raw body.
func extractMessage(data []byte) string {
	var wrapped struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Message != "" {
			return wrapped.Message
		}
		if wrapped.Error != "" {
			return wrapped.Error
		}
	}
	return strings.TrimSpace(string(data))
}
