package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/messaging"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/picker"
	"github.com/BTreeMap/TemplateDesk/internal/session"
	"github.com/BTreeMap/TemplateDesk/internal/store"
	"github.com/BTreeMap/TemplateDesk/internal/testutil"
)

type testEnv struct {
	server    *Server
	handler   http.Handler
	backend   *testutil.FakeBackend
	generator *testutil.ScriptedGenerator
	store     *store.InMemoryStore
	sender    *messaging.MockSender
}

type envConfig struct {
	validator   conversation.Validator
	noMessaging bool
	noOutbox    bool
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	fb := testutil.NewFakeBackend()
	gen := &testutil.ScriptedGenerator{Fail: map[string]bool{"break it": true}}
	st := store.NewInMemoryStore()

	convOpts := []conversation.Option{conversation.WithRecorder(st), conversation.WithPersister(fb)}
	if cfg.validator != nil {
		convOpts = append(convOpts, conversation.WithValidator(cfg.validator))
	}
	sessions := session.NewManager(session.NewMemoryStore(time.Hour))
	deps := Deps{
		Sessions:  sessions,
		Directory: fb,
		Conversations: conversation.NewManager(conversation.ManagerConfig{
			Loader:    fb,
			Generator: gen,
			Sessions:  sessions,
			Options:   convOpts,
		}),
		Exchanges: st,
	}
	sender := messaging.NewMockSender()
	if !cfg.noMessaging {
		var outbox store.OutboxRepo
		if !cfg.noOutbox {
			outbox = st
			deps.Outbox = st
		}
		deps.Messaging = messaging.NewService(sender, outbox)
	}

	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &testEnv{server: srv, handler: srv.Handler(), backend: fb, generator: gen, store: st, sender: sender}
}

func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// login creates a session and returns its cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	rr := e.do(testutil.CreateHTTPRequest(t, "POST", "/api/session", map[string]string{"access_token": "access", "refresh_token": "refresh"}), nil)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "login")
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("login did not set the session cookie")
	return nil
}

// open starts a conversation on ws1/t1 and returns its id.
func (e *testEnv) open(t *testing.T, cookie *http.Cookie) string {
	t.Helper()
	rr := e.do(testutil.CreateHTTPRequest(t, "POST", "/api/conversations", map[string]string{"workspace_id": "ws1", "template_id": "t1"}), cookie)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "open conversation")
	var res conversationResult
	testutil.DecodeResult(t, rr, &res)
	if res.ConversationID == "" {
		t.Fatal("open returned no conversation id")
	}
	return res.ConversationID
}

func TestNewServer_RequiresDeps(t *testing.T) {
	if _, err := NewServer(Deps{}); err == nil {
		t.Error("expected error without sessions, directory and conversations")
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/healthz", nil), nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	var body map[string]interface{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestSession_LoginGetLogout(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/session", nil), nil)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "no cookie")

	rr = env.do(testutil.CreateHTTPRequest(t, "POST", "/api/session", map[string]string{"access_token": "  "}), nil)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "blank token")

	cookie := env.login(t)
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/session", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get session")
	if strings.Contains(rr.Body.String(), "access_token") || strings.Contains(rr.Body.String(), "refresh_token") {
		t.Error("session view must not expose tokens")
	}
	var view models.SessionView
	testutil.DecodeResult(t, rr, &view)
	if !view.Authenticated {
		t.Error("expected authenticated session")
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "DELETE", "/api/session", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "logout")

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/session", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "after logout")
}

func TestSelectWorkspace(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing", map[string]interface{}{}, http.StatusBadRequest},
		{"unknown", map[string]interface{}{"workspace_id": "nope"}, http.StatusNotFound},
		{"cancel", map[string]interface{}{"cancel": true}, http.StatusOK},
		{"valid", map[string]interface{}{"workspace_id": "ws1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(testutil.CreateHTTPRequest(t, "PUT", "/api/session/workspace", tt.body), cookie)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
		})
	}

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/session", nil), cookie)
	var view models.SessionView
	testutil.DecodeResult(t, rr, &view)
	if view.WorkspaceID != "ws1" {
		t.Errorf("expected workspace ws1, got %q", view.WorkspaceID)
	}
}

func TestDirectoryListings(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/workspaces", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "workspaces")
	var workspaces []picker.Option[models.Workspace]
	testutil.DecodeResult(t, rr, &workspaces)
	if len(workspaces) != 1 || workspaces[0].Key != "ws1" || workspaces[0].Label != "Main" {
		t.Errorf("unexpected workspaces: %+v", workspaces)
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/workspaces/ws1/recipients", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "recipients")
	var recipients []picker.Option[models.Recipient]
	testutil.DecodeResult(t, rr, &recipients)
	if len(recipients) != 1 || recipients[0].Label != "Alice (+15551234567)" {
		t.Errorf("unexpected recipients: %+v", recipients)
	}

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/workspaces/ws1/templates?page=0&size=10", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "templates")
}

func TestBackendUnauthorized_EndsSession(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	env.backend.Err = backend.ErrUnauthorized

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/workspaces", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "rejected refresh")

	rr = env.do(testutil.CreateHTTPRequest(t, "GET", "/api/session", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "session after rejected refresh")
}

func TestBackendFailure_BadGateway(t *testing.T) {
	env := newTestEnv(t, envConfig{})
	cookie := env.login(t)
	env.backend.Err = &backend.StatusError{Method: "GET", Path: "/workspaces", StatusCode: 500, Body: "boom"}

	rr := env.do(testutil.CreateHTTPRequest(t, "GET", "/api/workspaces", nil), cookie)
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "backend 500")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}
