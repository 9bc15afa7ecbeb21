package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/messaging"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/picker"
	"github.com/BTreeMap/TemplateDesk/internal/view"
)

type openConversationRequest struct {
	WorkspaceID string `json:"workspace_id"`
	TemplateID  string `json:"template_id"`
}

type submitMessageRequest struct {
	Text string `json:"text"`
}

type sendTemplateRequest struct {
	To          string `json:"to"`
	RecipientID string `json:"recipient_id"`
}

type previewRequest struct {
	Index *int `json:"index"`
}

// conversationResult is the result body of every conversation endpoint.
type conversationResult struct {
	ConversationID string                   `json:"conversation_id"`
	Result         conversation.SubmitResult `json:"result,omitempty"`
	Validation     *models.ValidationResult `json:"validation,omitempty"`
	State          conversation.State       `json:"state"`
}

func (s *Server) openConversationHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	var req openConversationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	workspaceID := strings.TrimSpace(req.WorkspaceID)
	if workspaceID == "" {
		workspaceID = sess.WorkspaceID
	}
	templateID := strings.TrimSpace(req.TemplateID)
	if workspaceID == "" || templateID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("workspace_id and template_id are required"))
		return
	}

	id, conv, err := s.conversations.Open(r.Context(), sess, workspaceID, templateID)
	result := conversationResult{ConversationID: id, State: conv.State()}
	if err != nil {
		slog.Warn("Server.openConversationHandler: template load failed", "conversation_id", id, "error", err)
		resp := models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage(conversation.TemplateLoadFailedMessage).
			WithResult(result).
			Build()
		writeJSONResponse(w, http.StatusBadGateway, resp)
		return
	}
	slog.Info("Server.openConversationHandler: conversation opened", "conversation_id", id, "workspace_id", workspaceID, "template_id", templateID)
	writeJSONResponse(w, http.StatusCreated, models.Success(result))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	writeJSONResponse(w, http.StatusOK, models.Success(conversationResult{ConversationID: r.PathValue("id"), State: conv.State()}))
}

func (s *Server) closeConversationHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	if err := s.conversations.Close(r.PathValue("id"), sess.ID); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(conversationMissing))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation closed", nil))
}

func (s *Server) submitMessageHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	var req submitMessageRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	outcome := conv.SubmitInstruction(r.Context(), view.NormalizeInput(req.Text))
	writeJSONResponse(w, http.StatusOK, models.Success(conversationResult{
		ConversationID: r.PathValue("id"),
		Result:         outcome,
		State:          conv.State(),
	}))
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	var req previewRequest
	if err := decodeJSONBody(w, r, &req); err != nil || req.Index == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("index is required"))
		return
	}
	if err := conv.PreviewEntry(*req.Index); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Entry has no template to preview"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conversationResult{ConversationID: r.PathValue("id"), State: conv.State()}))
}

func (s *Server) returnToLatestHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	conv.ReturnToLatest()
	writeJSONResponse(w, http.StatusOK, models.Success(conversationResult{ConversationID: r.PathValue("id"), State: conv.State()}))
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	result, err := conv.Validate(r.Context())
	switch {
	case errors.Is(err, conversation.ErrNoValidator):
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Validation is not configured"))
		return
	case errors.Is(err, conversation.ErrNotReady):
		writeJSONResponse(w, http.StatusConflict, models.Error(conversation.TemplateLoadFailedMessage))
		return
	case err != nil:
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(conversation.ValidationFailedMessage))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conversationResult{
		ConversationID: r.PathValue("id"),
		Validation:     &result,
		State:          conv.State(),
	}))
}

func (s *Server) listExchangesHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	if s.exchanges == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Exchange log is not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	st := conv.State()
	records, err := s.exchanges.ListExchanges(st.WorkspaceID, st.TemplateID, limit)
	if err != nil {
		slog.Error("Server.listExchangesHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load exchange log"))
		return
	}
	if records == nil {
		records = []models.ExchangeRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) sendTemplateHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext, conv *conversation.Conversation) {
	if s.msgService == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging is not configured"))
		return
	}
	var req sendTemplateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	displayed, ok := conv.DisplayedTemplate()
	if !ok {
		writeJSONResponse(w, http.StatusConflict, models.Error(conversation.TemplateLoadFailedMessage))
		return
	}

	to := strings.TrimSpace(req.To)
	if to == "" && strings.TrimSpace(req.RecipientID) != "" {
		sel, err := s.recipientPicker(sess, conv.State().WorkspaceID).Resolve(r.Context(), strings.TrimSpace(req.RecipientID))
		switch {
		case errors.Is(err, picker.ErrUnknownOption):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown recipient"))
			return
		case err != nil:
			s.writeBackendError(w, r, sess, err, "Failed to load recipients")
			return
		}
		to = sel.Value.PhoneNumber
	}

	var deliveryID string
	var err error
	if s.outbox != nil {
		deliveryID, err = s.msgService.QueueTemplate(to, displayed)
	} else {
		err = s.msgService.SendTemplate(r.Context(), to, displayed)
	}
	switch {
	case errors.Is(err, messaging.ErrInvalidRecipient):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid recipient phone number"))
		return
	case errors.Is(err, messaging.ErrEmptyMessage):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Template has no content to send"))
		return
	case err != nil:
		slog.Error("Server.sendTemplateHandler: send failed", "template_id", displayed.ID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send template"))
		return
	}

	if deliveryID == "" {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Template sent", nil))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Template queued", map[string]string{"delivery_id": deliveryID}))
}

func (s *Server) getDeliveryHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	if s.outbox == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Outbox is not configured"))
		return
	}
	msg, err := s.outbox.GetOutboxMessage(r.PathValue("id"))
	if err != nil {
		slog.Error("Server.getDeliveryHandler: lookup failed", "id", r.PathValue("id"), "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load delivery"))
		return
	}
	if msg == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Delivery not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msg))
}
