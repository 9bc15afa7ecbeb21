// Package testutil provides common test utilities and fakes for TemplateDesk tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"strings"
	"sync"

	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatal(args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult decodes the result field of an API envelope into target.
func DecodeResult(t TB, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	MustUnmarshalJSON(t, rr.Body.Bytes(), &envelope)
	if len(envelope.Result) == 0 {
		t.Fatal("response has no result")
	}
	MustUnmarshalJSON(t, envelope.Result, target)
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateFormRequest creates a form post, as sent by the console pages.
func CreateFormRequest(t TB, url string, fields map[string]string) *http.Request {
	t.Helper()
	form := neturl.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create form request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// FakeBackend is an in-memory template backend. It serves the directory
// listings, template loads and template saves. Err, when set, fails every call.
type FakeBackend struct {
	mu         sync.Mutex
	Workspaces []models.Workspace
	PhoneBooks map[string][]models.PhoneBook
	Recipients map[string][]models.Recipient
	Templates  map[string]models.Template
	Created    []models.Template
	Err        error
}

// NewFakeBackend creates a backend with one workspace "ws1" holding template "t1".
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Workspaces: []models.Workspace{{ID: "ws1", Name: "Main"}},
		PhoneBooks: map[string][]models.PhoneBook{"ws1": {{ID: "pb1", Name: "Testers"}}},
		Recipients: map[string][]models.Recipient{"ws1": {{ID: "r1", Name: "Alice", PhoneNumber: "+15551234567"}}},
		Templates: map[string]models.Template{
			"t1": {ID: "t1", WorkspaceID: "ws1", Title: "Welcome", Text: "Hello there", Status: models.TemplateStatusDraft},
		},
	}
}

func (f *FakeBackend) ListWorkspaces(ctx context.Context, sess *models.SessionContext) ([]models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]models.Workspace(nil), f.Workspaces...), nil
}

func (f *FakeBackend) ListTemplates(ctx context.Context, sess *models.SessionContext, workspaceID string, opts backend.ListOptions) ([]models.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []models.Template
	for _, t := range f.Templates {
		if t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FakeBackend) ListPhoneBooks(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.PhoneBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]models.PhoneBook(nil), f.PhoneBooks[workspaceID]...), nil
}

func (f *FakeBackend) ListRecipients(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.Recipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]models.Recipient(nil), f.Recipients[workspaceID]...), nil
}

func (f *FakeBackend) GetTemplate(ctx context.Context, sess *models.SessionContext, workspaceID, templateID string) (models.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return models.Template{}, f.Err
	}
	t, ok := f.Templates[templateID]
	if !ok || t.WorkspaceID != workspaceID {
		return models.Template{}, &backend.StatusError{StatusCode: http.StatusNotFound, Body: "not found"}
	}
	return t, nil
}

func (f *FakeBackend) CreateTemplate(ctx context.Context, sess *models.SessionContext, workspaceID string, t models.Template) (models.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return models.Template{}, f.Err
	}
	f.Created = append(f.Created, t)
	return t, nil
}

// ScriptedGenerator appends the instruction to the template text and replies
// "Updated: <instruction>". Instructions listed in Fail return an error.
type ScriptedGenerator struct {
	mu    sync.Mutex
	Fail  map[string]bool
	Calls []string
}

func (g *ScriptedGenerator) Exchange(ctx context.Context, current models.Template, instruction string) (models.Template, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, instruction)
	if g.Fail[instruction] {
		return models.Template{}, "", errors.New("generation backend unavailable")
	}
	next := current.Clone()
	next.Text = strings.TrimSpace(current.Text + " " + instruction)
	return next, fmt.Sprintf("Updated: %s", instruction), nil
}

// StaticValidator returns Result for every template, or Err when set.
type StaticValidator struct {
	Result models.ValidationResult
	Err    error
}

func (v StaticValidator) Validate(ctx context.Context, t models.Template) (models.ValidationResult, error) {
	if v.Err != nil {
		return models.ValidationResult{}, v.Err
	}
	return v.Result, nil
}
