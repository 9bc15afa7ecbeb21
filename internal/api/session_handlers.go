package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/picker"
	"github.com/BTreeMap/TemplateDesk/internal/session"
)

type loginRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

type selectWorkspaceRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Cancel      bool   `json:"cancel"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		slog.Warn("Server.loginHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sess, err := s.sessions.Login(r.Context(), req.AccessToken, req.RefreshToken, req.Role)
	if errors.Is(err, session.ErrMissingToken) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("access_token is required"))
		return
	}
	if err != nil {
		slog.Error("Server.loginHandler: login failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(sessionUnavailableMessage))
		return
	}
	s.setSessionCookie(w, sess.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Logged in", sess.View()))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	writeJSONResponse(w, http.StatusOK, models.Success(sess.View()))
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	s.endSession(w, r, sess)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Logged out", nil))
}

// workspacePicker lists the workspaces visible to sess.
func (s *Server) workspacePicker(sess *models.SessionContext) picker.Picker[models.Workspace] {
	return picker.Picker[models.Workspace]{
		Load: func(ctx context.Context) ([]models.Workspace, error) {
			return s.directory.ListWorkspaces(ctx, sess)
		},
		Key:   func(ws models.Workspace) string { return ws.ID },
		Label: func(ws models.Workspace) string { return ws.Name },
	}
}

func (s *Server) selectWorkspaceHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	var req selectWorkspaceRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	p := s.workspacePicker(sess)
	if req.Cancel {
		p.Cancel()
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Selection cancelled", sess.View()))
		return
	}

	sel, err := p.Resolve(r.Context(), strings.TrimSpace(req.WorkspaceID))
	switch {
	case errors.Is(err, picker.ErrMissingKey):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("workspace_id is required"))
		return
	case errors.Is(err, picker.ErrUnknownOption):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown workspace"))
		return
	case err != nil:
		s.writeBackendError(w, r, sess, err, "Failed to load workspaces")
		return
	}

	updated, err := s.sessions.SelectWorkspace(r.Context(), sess.ID, sel.Value.ID)
	if err != nil {
		slog.Error("Server.selectWorkspaceHandler: update failed", "session_id", sess.ID, "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(sessionUnavailableMessage))
		return
	}
	slog.Info("Server.selectWorkspaceHandler: workspace selected", "session_id", sess.ID, "workspace_id", sel.Value.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(updated.View()))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"conversations": s.conversations.Len(),
	})
}
