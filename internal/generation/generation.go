// Package generation is the client for the remote AI generation backend.
//
// The backend regenerates a template from the current template plus a free
// text instruction, and predicts whether a template would pass review.
package generation

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

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

const (
	exchangePath = "/template/template"
	validatePath = "/validate/validate"

	maxErrorBodyBytes = 2048
	maxResponseBytes  = 4 << 20
)

// ErrMalformedResponse is returned when a 2xx response lacks the expected fields.
var ErrMalformedResponse = errors.New("malformed generation response")

// StatusError carries a non-2xx response from the AI backend.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai backend %s returned status %d", e.Path, e.StatusCode)
}

// Opts holds configuration options for HTTPGenerator.
type Opts struct {
	HTTPClient *http.Client
}

// Option defines a configuration option for HTTPGenerator.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client. No timeout is applied by default.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// HTTPGenerator talks to the AI backend over HTTP.
type HTTPGenerator struct {
	baseURL string
	http    *http.Client
}

// NewHTTPGenerator creates a generator for the AI backend rooted at baseURL.
func NewHTTPGenerator(baseURL string, opts ...Option) (*HTTPGenerator, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid ai backend URL %q: %w", baseURL, err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &HTTPGenerator{baseURL: strings.TrimRight(baseURL, "/"), http: cfg.HTTPClient}, nil
}

type exchangeRequest struct {
	OriginalTemplate models.GenerationPayload `json:"original_template"`
	UserInput        string                   `json:"user_input"`
}

type exchangeResponse struct {
	Template     json.RawMessage `json:"template"`
	ChatResponse string          `json:"chat_response"`
}

// Exchange sends one instruction and returns the replacement template and the
// conversational reply.
func (g *HTTPGenerator) Exchange(ctx context.Context, current models.Template, instruction string) (models.Template, string, error) {
	req := exchangeRequest{OriginalTemplate: current.GenerationPayload(), UserInput: instruction}
	data, err := g.post(ctx, exchangePath, req)
	if err != nil {
		return models.Template{}, "", err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.Template{}, "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(resp.ChatResponse) == "" {
		return models.Template{}, "", fmt.Errorf("%w: missing chat_response", ErrMalformedResponse)
	}
	next, err := models.NormalizeTemplate(resp.Template)
	if err != nil {
		return models.Template{}, "", fmt.Errorf("%w: template: %v", ErrMalformedResponse, err)
	}

	// The AI backend only knows the content fields.
	next.ID = current.ID
	next.WorkspaceID = current.WorkspaceID
	if next.Status == "" {
		next.Status = current.Status
	}
	slog.Debug("HTTPGenerator.Exchange: template regenerated", "template_id", current.ID, "reply_len", len(resp.ChatResponse))
	return next, resp.ChatResponse, nil
}

// Validate asks the AI backend whether t is likely to pass review.
func (g *HTTPGenerator) Validate(ctx context.Context, t models.Template) (models.ValidationResult, error) {
	body := struct {
		Template models.GenerationPayload `json:"template"`
	}{Template: t.GenerationPayload()}
	data, err := g.post(ctx, validatePath, body)
	if err != nil {
		return models.ValidationResult{}, err
	}
	var result models.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return models.ValidationResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !result.Result.IsValid() {
		return models.ValidationResult{}, fmt.Errorf("%w: unknown validation result %q", ErrMalformedResponse, result.Result)
	}
	return result, nil
}

func (g *HTTPGenerator) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai backend %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(excerpt)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read ai backend response: %w", err)
	}
	return data, nil
}
