package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/BTreeMap/TemplateDesk/internal/backend"
	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/picker"
)

func (s *Server) listWorkspacesHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	opts, err := s.workspacePicker(sess).Options(r.Context())
	if err != nil {
		s.writeBackendError(w, r, sess, err, "Failed to load workspaces")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(opts))
}

func (s *Server) listTemplatesHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	q := r.URL.Query()
	opts := backend.ListOptions{
		Page:      atoiOrZero(q.Get("page")),
		Size:      atoiOrZero(q.Get("size")),
		SortType:  q.Get("sort"),
		Direction: q.Get("direction"),
		Status:    models.TemplateStatus(q.Get("status")),
		Query:     q.Get("q"),
	}
	templates, err := s.directory.ListTemplates(r.Context(), sess, r.PathValue("ws"), opts)
	if err != nil {
		s.writeBackendError(w, r, sess, err, "Failed to load templates")
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(templates))
}

func (s *Server) listPhoneBooksHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	ws := r.PathValue("ws")
	p := picker.Picker[models.PhoneBook]{
		Load: func(ctx context.Context) ([]models.PhoneBook, error) {
			return s.directory.ListPhoneBooks(ctx, sess, ws)
		},
		Key:   func(pb models.PhoneBook) string { return pb.ID },
		Label: func(pb models.PhoneBook) string { return pb.Name },
	}
	opts, err := p.Options(r.Context())
	if err != nil {
		s.writeBackendError(w, r, sess, err, "Failed to load phone books")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(opts))
}

func (s *Server) listRecipientsHandler(w http.ResponseWriter, r *http.Request, sess *models.SessionContext) {
	opts, err := s.recipientPicker(sess, r.PathValue("ws")).Options(r.Context())
	if err != nil {
		s.writeBackendError(w, r, sess, err, "Failed to load recipients")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(opts))
}

// recipientPicker lists the recipients of a workspace as test-send targets.
func (s *Server) recipientPicker(sess *models.SessionContext, workspaceID string) picker.Picker[models.Recipient] {
	return picker.Picker[models.Recipient]{
		Load: func(ctx context.Context) ([]models.Recipient, error) {
			return s.directory.ListRecipients(ctx, sess, workspaceID)
		},
		Key: func(rc models.Recipient) string { return rc.ID },
		Label: func(rc models.Recipient) string {
			if rc.Name == "" {
				return rc.PhoneNumber
			}
			return rc.Name + " (" + rc.PhoneNumber + ")"
		},
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
