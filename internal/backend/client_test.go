package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(append([]Option{WithBaseURL(srv.URL + "/api")}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGetTemplate_NormalizesBackendShape(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/5/templates/12" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"individualTemplateId":12,"individualTemplateTitle":"Coupon","individualTemplateContent":"Expires soon","buttonTitle":"Open","status":"DRAFT"}`)
	}))

	sess := &models.SessionContext{ID: "s1", AccessToken: "access-1"}
	tmpl, err := client.GetTemplate(context.Background(), sess, "5", "12")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	want := models.Template{ID: "12", WorkspaceID: "5", Title: "Coupon", Text: "Expires soon", ButtonName: "Open", Status: models.TemplateStatusDraft}
	if !tmpl.Equal(want) {
		t.Errorf("expected %+v, got %+v", want, tmpl)
	}
}

func TestGetTemplate_StatusError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.GetTemplate(context.Background(), &models.SessionContext{}, "1", "2")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", statusErr.StatusCode)
	}
}

func TestClient_RequiresSession(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())
	if _, err := client.GetTemplate(context.Background(), nil, "1", "2"); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestClient_RefreshesOnUnauthorized(t *testing.T) {
	var refreshes, templateCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer refresh-1" {
			t.Errorf("refresh sent %q", got)
		}
		io.WriteString(w, `{"accessToken":"access-2","refreshToken":"refresh-2"}`)
	})
	mux.HandleFunc("GET /api/1/templates/2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&templateCalls, 1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"title":"T","text":"B"}`)
	})

	var persisted *models.SessionContext
	client := newTestClient(t, mux, WithTokenUpdater(func(ctx context.Context, sess *models.SessionContext) error {
		copied := *sess
		persisted = &copied
		return nil
	}))

	sess := &models.SessionContext{ID: "s1", AccessToken: "access-1", RefreshToken: "refresh-1"}
	tmpl, err := client.GetTemplate(context.Background(), sess, "1", "2")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if tmpl.Title != "T" {
		t.Errorf("unexpected template %+v", tmpl)
	}
	if refreshes != 1 || templateCalls != 2 {
		t.Errorf("expected 1 refresh and 2 template calls, got %d and %d", refreshes, templateCalls)
	}
	if sess.AccessToken != "access-2" || sess.RefreshToken != "refresh-2" {
		t.Errorf("session tokens not updated: %+v", sess)
	}
	if persisted == nil || persisted.AccessToken != "access-2" {
		t.Errorf("token updater not invoked with new tokens: %+v", persisted)
	}
}

func TestClient_RefreshFailureIsUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("GET /api/workspaces", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux)

	sess := &models.SessionContext{AccessToken: "stale", RefreshToken: "stale-refresh"}
	if _, err := client.ListWorkspaces(context.Background(), sess); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if sess.AccessToken != "stale" {
		t.Errorf("session should keep its tokens, got %q", sess.AccessToken)
	}
}

func TestCreateTemplate_SendsBackendPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/templates/9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["individualTemplateTitle"] != "Hello" || body["individualTemplateContent"] != "Body" || body["status"] != "DRAFT" {
			t.Errorf("unexpected payload %v", body)
		}
		if body["buttonTitle"] != nil {
			t.Errorf("expected null buttonTitle, got %v", body["buttonTitle"])
		}
		io.WriteString(w, `{"individualTemplateId":77,"individualTemplateTitle":"Hello","individualTemplateContent":"Body","status":"DRAFT"}`)
	}))

	stored, err := client.CreateTemplate(context.Background(), &models.SessionContext{}, "9", models.Template{Title: "Hello", Text: "Body"})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if stored.ID != "77" || stored.WorkspaceID != "9" {
		t.Errorf("unexpected stored template %+v", stored)
	}
}

func TestListTemplates_PageAndQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("size") != "10" || q.Get("status") != "APPROVED" || q.Get("q") != "coupon" {
			t.Errorf("unexpected query %v", q)
		}
		io.WriteString(w, `{"content":[{"individualTemplateId":1,"individualTemplateTitle":"A"},"garbage",{"individualTemplateId":2,"individualTemplateTitle":"B"}],"totalElements":3}`)
	}))

	list, err := client.ListTemplates(context.Background(), &models.SessionContext{}, "3", ListOptions{Page: 2, Size: 10, Status: models.TemplateStatusApproved, Query: "coupon"})
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 2 || list[0].Title != "A" || list[1].ID != "2" || list[1].WorkspaceID != "3" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestDirectoryListings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workspaces", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"workspaceId":1,"workspaceName":"Shop"}]`)
	})
	mux.HandleFunc("GET /api/workspaces/1/phonebooks", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"phoneBookId":4,"phoneBookName":"VIP"}]}`)
	})
	mux.HandleFunc("GET /api/workspaces/1/recipients", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[{"recipientId":8,"recipientName":"Lee","recipientPhoneNumber":"01012345678"}]}`)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()
	sess := &models.SessionContext{}

	workspaces, err := client.ListWorkspaces(ctx, sess)
	if err != nil || len(workspaces) != 1 || workspaces[0].Name != "Shop" {
		t.Errorf("workspaces %+v err=%v", workspaces, err)
	}
	books, err := client.ListPhoneBooks(ctx, sess, "1")
	if err != nil || len(books) != 1 || books[0].ID != "4" {
		t.Errorf("phone books %+v err=%v", books, err)
	}
	recipients, err := client.ListRecipients(ctx, sess, "1")
	if err != nil || len(recipients) != 1 || recipients[0].PhoneNumber != "01012345678" {
		t.Errorf("recipients %+v err=%v", recipients, err)
	}
}
