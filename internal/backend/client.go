// Package backend provides the HTTP client for the template REST backend.
//
// Every call receives the caller's session context explicitly; the client
// attaches the bearer access token and transparently refreshes it once when
// the backend answers 401.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8080/api"
	// DefaultTimeout bounds a single backend request.
	DefaultTimeout = 30 * time.Second
	// maxErrorBodyBytes bounds how much of an error body is kept for logs.
	maxErrorBodyBytes = 2048
	// maxResponseBytes bounds a successful response body.
	maxResponseBytes = 8 << 20

	refreshPath = "/auth/refresh"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credentials and
	// a token refresh could not recover.
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrNoSession is returned when a call is made without a session context.
	ErrNoSession = errors.New("session context is required")
)

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// TokenUpdater is invoked after a successful token refresh so the new
// credentials can be persisted with the session.
type TokenUpdater func(ctx context.Context, sess *models.SessionContext) error

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL      string
	HTTPClient   *http.Client
	TokenUpdater TokenUpdater
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the backend base URL, e.g. "http://localhost:8080/api".
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// WithTokenUpdater sets the callback invoked after a token refresh.
func WithTokenUpdater(fn TokenUpdater) Option {
	return func(o *Opts) { o.TokenUpdater = fn }
}

// Client talks to the template REST backend.
type Client struct {
	baseURL  string
	http     *http.Client
	onTokens TokenUpdater

	refreshMu sync.Mutex
}

// NewClient creates a backend client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("backend.NewClient: configured", "base_url", cfg.BaseURL, "token_updater_set", cfg.TokenUpdater != nil)
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     cfg.HTTPClient,
		onTokens: cfg.TokenUpdater,
	}, nil
}

// do performs one backend call, refreshing the access token once on 401.
func (c *Client) do(ctx context.Context, sess *models.SessionContext, method, path string, query url.Values, body, out interface{}) error {
	if sess == nil {
		return ErrNoSession
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	usedToken := sess.AccessToken
	data, err := c.send(ctx, method, path, query, payload, usedToken)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized && path != refreshPath {
		slog.Debug("Client.do: access token rejected, refreshing", "method", method, "path", path)
		if refreshErr := c.refresh(ctx, sess, usedToken); refreshErr != nil {
			slog.Warn("Client.do: token refresh failed", "error", refreshErr, "path", path)
			return fmt.Errorf("%w: %v", ErrUnauthorized, refreshErr)
		}
		data, err = c.send(ctx, method, path, query, payload, sess.AccessToken)
	}
	if err != nil {
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode backend response for %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	return data, nil
}

// refresh exchanges the refresh token for a new token pair. Refreshes are
// serialized; a caller that waited while another refresh replaced the token
// reuses that result.
func (c *Client) refresh(ctx context.Context, sess *models.SessionContext, rejectedToken string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if sess.AccessToken != "" && sess.AccessToken != rejectedToken {
		return nil
	}
	if sess.RefreshToken == "" {
		return errors.New("no refresh token available")
	}

	data, err := c.send(ctx, http.MethodPost, refreshPath, nil, []byte("{}"), sess.RefreshToken)
	if err != nil {
		return err
	}
	var tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return errors.New("refresh response missing tokens")
	}

	sess.AccessToken = tokens.AccessToken
	sess.RefreshToken = tokens.RefreshToken
	slog.Info("Client.refresh: access token refreshed", "session_id", sess.ID)

	if c.onTokens != nil {
		if err := c.onTokens(ctx, sess); err != nil {
			slog.Error("Client.refresh: failed to persist refreshed tokens", "error", err, "session_id", sess.ID)
		}
	}
	return nil
}

// unwrapData returns the value under a top-level "data" key when present.
func unwrapData(raw json.RawMessage) json.RawMessage {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return raw
	}
	if inner, ok := wrapper["data"]; ok && len(wrapper) <= 3 {
		trimmed := bytes.TrimSpace(inner)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			return inner
		}
	}
	return raw
}

// listItems accepts a bare JSON array or a page object with a "content" array.
func listItems(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = unwrapData(raw)
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var page struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("unexpected list payload: %w", err)
	}
	return page.Content, nil
}
