package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/session"
	"github.com/BTreeMap/TemplateDesk/internal/view"
)

const (
	notLoggedInMessage        = "Not logged in"
	sessionExpiredMessage     = "Session expired, please log in again"
	sessionUnavailableMessage = "Session store unavailable"
	conversationMissing       = "Conversation not found"
	consoleLoginMessage       = "Please log in to continue."
)

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, sess *models.SessionContext)

type conversationHandlerFunc func(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation)

// currentSession resolves the session named by the request cookie.
func (s *Server) currentSession(r *http.Request) (*models.SessionContext, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, session.ErrNotFound
	}
	return s.sessions.Get(r.Context(), cookie.Value)
}

func (s *Server) withSession(next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.currentSession(r)
		if errors.Is(err, session.ErrNotFound) {
			writeJSONResponse(w, http.StatusUnauthorized, models.Error(notLoggedInMessage))
			return
		}
		if err != nil {
			slog.Error("Server.withSession: session lookup failed", "path", r.URL.Path, "error", err)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(sessionUnavailableMessage))
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) withConversation(next conversationHandlerFunc) http.HandlerFunc {
	return s.withSession(func(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
		conv, err := s.conversations.Get(r.PathValue("id"), sess.ID)
		if err != nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error(conversationMissing))
			return
		}
		next(w, r, sess, conv)
	})
}

func (s *Server) withConsoleSession(next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.currentSession(r)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				slog.Error("Server.withConsoleSession: session lookup failed", "path", r.URL.Path, "error", err)
			}
			s.renderNotReady(w, http.StatusUnauthorized, consoleLoginMessage)
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) withConsoleConversation(next conversationHandlerFunc) http.HandlerFunc {
	return s.withConsoleSession(func(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
		conv, err := s.conversations.Get(r.PathValue("id"), sess.ID)
		if err != nil {
			s.renderNotReady(w, http.StatusNotFound, conversationMissing+".")
			return
		}
		next(w, r, sess, conv)
	})
}

func (s *Server) renderNotReady(w http.ResponseWriter, statusCode int, message string) {
	page, err := view.RenderNotReadyPage(message)
	if err != nil {
		slog.Error("Server.renderNotReady: render failed", "error", err)
		http.Error(w, message, statusCode)
		return
	}
	writeHTMLResponse(w, statusCode, page)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// endSession logs the session out and drops its conversations.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	closed := s.conversations.CloseSession(sess.ID)
	if err := s.sessions.Logout(r.Context(), sess.ID); err != nil {
		slog.Warn("Server.endSession: logout failed", "session_id", sess.ID, "error", err)
	}
	s.clearSessionCookie(w)
	slog.Info("Server.endSession: session ended", "session_id", sess.ID, "conversations_closed", closed)
}

// writeBackendError maps a template backend failure to a response. A
// rejected refresh ends the session.
func (s *Server) writeBackendError(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, err error, message string) {
	if errors.Is(err, backend.ErrUnauthorized) {
		s.endSession(w, r, sess)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(sessionExpiredMessage))
		return
	}
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		slog.Error("Server.writeBackendError: backend returned an error", "path", r.URL.Path, "status", statusErr.StatusCode, "body", statusErr.Body)
	} else {
		slog.Error("Server.writeBackendError: backend request failed", "path", r.URL.Path, "error", err)
	}
	writeJSONResponse(w, http.StatusBadGateway, models.Error(message))
}
