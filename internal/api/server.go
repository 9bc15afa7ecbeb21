// Package api exposes TemplateDesk over HTTP: a JSON API for sessions,
// directories and conversations, and the server-rendered console pages.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/messaging"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/session"
	"github.com/BTreeMap/TemplateDesk/internal/store"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// SessionCookieName carries the session id.
	SessionCookieName = "templatedesk_session"
)

// Directory lists the backend records the console picks from.
type Directory interface {
	ListWorkspaces(ctx context.Context, sess *models.SessionContext) ([]models.Workspace, error)
	ListTemplates(ctx context.Context, sess *models.SessionContext, workspaceID string, opts backend.ListOptions) ([]models.Template, error)
	ListPhoneBooks(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.PhoneBook, error)
	ListRecipients(ctx context.Context, sess *models.SessionContext, workspaceID string) ([]models.Recipient, error)
}

// Deps are the collaborators of the HTTP server. Exchanges, Outbox and
// Messaging are optional; their endpoints answer 503 when unset.
type Deps struct {
	Sessions      *session.Manager
	Directory     Directory
	Conversations *conversation.Manager
	Exchanges     store.Store
	Outbox        store.OutboxRepo
	Messaging     *messaging.Service
}

// Opts holds configuration options for the HTTP server.
type Opts struct {
	Addr            string
	SecureCookies   bool
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the HTTP server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSecureCookies marks the session cookie Secure (HTTPS deployments).
func WithSecureCookies(secure bool) Option {
	return func(o *Opts) { o.SecureCookies = secure }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server serves the API and console.
type Server struct {
	sessions      *session.Manager
	directory     Directory
	conversations *conversation.Manager
	exchanges     store.Store
	outbox        store.OutboxRepo
	msgService    *messaging.Service

	addr            string
	secureCookies   bool
	shutdownTimeout time.Duration
	started         time.Time
}

// NewServer creates the HTTP server.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	if deps.Sessions == nil || deps.Directory == nil || deps.Conversations == nil {
		return nil, errors.New("sessions, directory and conversations are required")
	}
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		sessions:        deps.Sessions,
		directory:       deps.Directory,
		conversations:   deps.Conversations,
		exchanges:       deps.Exchanges,
		outbox:          deps.Outbox,
		msgService:      deps.Messaging,
		addr:            cfg.Addr,
		secureCookies:   cfg.SecureCookies,
		shutdownTimeout: cfg.ShutdownTimeout,
		started:         time.Now(),
	}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler)

	mux.HandleFunc("POST /api/session", s.loginHandler)
	mux.HandleFunc("GET /api/session", s.withSession(s.getSessionHandler))
	mux.HandleFunc("DELETE /api/session", s.withSession(s.logoutHandler))
	mux.HandleFunc("PUT /api/session/workspace", s.withSession(s.selectWorkspaceHandler))

	mux.HandleFunc("GET /api/workspaces", s.withSession(s.listWorkspacesHandler))
	mux.HandleFunc("GET /api/workspaces/{ws}/templates", s.withSession(s.listTemplatesHandler))
	mux.HandleFunc("GET /api/workspaces/{ws}/phonebooks", s.withSession(s.listPhoneBooksHandler))
	mux.HandleFunc("GET /api/workspaces/{ws}/recipients", s.withSession(s.listRecipientsHandler))

	mux.HandleFunc("POST /api/conversations", s.withSession(s.openConversationHandler))
	mux.HandleFunc("GET /api/conversations/{id}", s.withConversation(s.getConversationHandler))
	mux.HandleFunc("DELETE /api/conversations/{id}", s.withSession(s.closeConversationHandler))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.withConversation(s.submitMessageHandler))
	mux.HandleFunc("POST /api/conversations/{id}/preview", s.withConversation(s.previewHandler))
	mux.HandleFunc("DELETE /api/conversations/{id}/preview", s.withConversation(s.returnToLatestHandler))
	mux.HandleFunc("POST /api/conversations/{id}/validate", s.withConversation(s.validateHandler))
	mux.HandleFunc("POST /api/conversations/{id}/send", s.withConversation(s.sendTemplateHandler))
	mux.HandleFunc("GET /api/conversations/{id}/exchanges", s.withConversation(s.listExchangesHandler))

	mux.HandleFunc("GET /api/deliveries/{id}", s.withSession(s.getDeliveryHandler))

	mux.HandleFunc("GET /console/workspaces/{ws}/templates/{tid}", s.withConsoleSession(s.consoleOpenHandler))
	mux.HandleFunc("GET /console/conversations/{id}", s.withConsoleConversation(s.consolePageHandler))
	mux.HandleFunc("POST /console/conversations/{id}/messages", s.withConsoleConversation(s.consoleMessageHandler))
	mux.HandleFunc("POST /console/conversations/{id}/preview", s.withConsoleConversation(s.consolePreviewHandler))
	mux.HandleFunc("POST /console/conversations/{id}/latest", s.withConsoleConversation(s.consoleLatestHandler))
	mux.HandleFunc("POST /console/conversations/{id}/validate", s.withConsoleConversation(s.consoleValidateHandler))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
