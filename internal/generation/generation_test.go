package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *HTTPGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gen, err := NewHTTPGenerator(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPGenerator: %v", err)
	}
	return gen
}

func TestExchange_Success(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != exchangePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			OriginalTemplate map[string]interface{} `json:"original_template"`
			UserInput        string                 `json:"user_input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserInput != "Make it shorter" || req.OriginalTemplate["title"] != "Sale" {
			t.Errorf("unexpected request %+v", req)
		}
		io.WriteString(w, `{"template":{"title":"Sale","text":"Short","button_name":"Buy"},"chat_response":"Shortened it"}`)
	})

	current := models.Template{ID: "7", WorkspaceID: "1", Title: "Sale", Text: "A long body", Status: models.TemplateStatusDraft}
	next, reply, err := gen.Exchange(context.Background(), current, "Make it shorter")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply != "Shortened it" {
		t.Errorf("unexpected reply %q", reply)
	}
	want := models.Template{ID: "7", WorkspaceID: "1", Title: "Sale", Text: "Short", ButtonName: "Buy", Status: models.TemplateStatusDraft}
	if !next.Equal(want) {
		t.Errorf("expected %+v, got %+v", want, next)
	}
}

func TestExchange_StringEncodedTemplate(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"template":"{\"title\":\"Demo\",\"text\":\"Hi #{name}\"}","chat_response":"Done"}`)
	})
	next, _, err := gen.Exchange(context.Background(), models.Template{}, "demo")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if next.Title != "Demo" || next.Text != "Hi #{name}" {
		t.Errorf("unexpected template %+v", next)
	}
}

func TestExchange_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing reply", http.StatusOK, `{"template":{"title":"A","text":"B"}}`, ErrMalformedResponse},
		{"missing template", http.StatusOK, `{"chat_response":"ok"}`, ErrMalformedResponse},
		{"not json", http.StatusOK, `<html>`, ErrMalformedResponse},
		{"template not object", http.StatusOK, `{"template":42,"chat_response":"ok"}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			if _, _, err := gen.Exchange(context.Background(), models.Template{}, "x"); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExchange_StatusError(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	_, _, err := gen.Exchange(context.Background(), models.Template{}, "x")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
}

func TestExchange_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	gen, err := NewHTTPGenerator(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTPGenerator: %v", err)
	}
	srv.Close()
	if _, _, err := gen.Exchange(context.Background(), models.Template{}, "x"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestValidate(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != validatePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"result":"approve","probability":"87.50%"}`)
	})
	result, err := gen.Validate(context.Background(), models.Template{Title: "A", Text: "B"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Result != models.ValidationApprove || result.Probability != "87.50%" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestValidate_UnknownResult(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"result":"maybe","probability":0.5}`)
	})
	if _, err := gen.Validate(context.Background(), models.Template{}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNewHTTPGenerator_InvalidURL(t *testing.T) {
	if _, err := NewHTTPGenerator("not a url"); err == nil {
		t.Error("expected error for invalid URL")
	}
}
