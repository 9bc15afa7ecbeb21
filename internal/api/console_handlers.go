package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/view"
)

const consolePrefix = "/console/conversations/"

// consolePath is the page URL of a console conversation.
func consolePath(id string) string {
	return consolePrefix + id
}

// redirectToConsole ends a form post with a redirect back to the page.
func redirectToConsole(w http.ResponseWriter, r *http.Request, id string) {
	http.Redirect(w, r, consolePath(id), http.StatusSeeOther)
}

func (s *Server) consoleOpenHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	workspaceID, templateID := r.PathValue("ws"), r.PathValue("tid")
	id, _, err := s.conversations.Open(r.Context(), sess, workspaceID, templateID)
	if err != nil {
		// The page renders the not-ready notice for this conversation.
		slog.Warn("Server.consoleOpenHandler: template load failed", "conversation_id", id, "error", err)
	}
	redirectToConsole(w, r, id)
}

func (s *Server) consolePageHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	st := conv.State()
	if !st.Ready() {
		message := st.LoadError
		if message == "" {
			message = conversation.TemplateLoadFailedMessage
		}
		s.renderNotReady(w, http.StatusOK, message)
		return
	}
	id := r.PathValue("id")
	page, err := view.RenderConversationPage(view.NewPageData(id, consolePath(id), st))
	if err != nil {
		slog.Error("Server.consolePageHandler: render failed", "conversation_id", id, "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	writeHTMLResponse(w, http.StatusOK, page)
}

func (s *Server) consoleMessageHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	conv.SubmitInstruction(r.Context(), view.NormalizeInput(r.PostFormValue("text")))
	redirectToConsole(w, r, r.PathValue("id"))
}

func (s *Server) consolePreviewHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	index, err := strconv.Atoi(r.PostFormValue("index"))
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	if err := conv.PreviewEntry(index); err != nil {
		slog.Debug("Server.consolePreviewHandler: entry has no snapshot", "index", index)
	}
	redirectToConsole(w, r, r.PathValue("id"))
}

func (s *Server) consoleLatestHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	conv.ReturnToLatest()
	redirectToConsole(w, r, r.PathValue("id"))
}

func (s *Server) consoleValidateHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	if _, err := conv.Validate(r.Context()); err != nil {
		slog.Warn("Server.consoleValidateHandler: validation unavailable", "conversation_id", r.PathValue("id"), "error", err)
	}
	redirectToConsole(w, r, r.PathValue("id"))
}
