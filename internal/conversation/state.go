package conversation

import (
	"context"
	"errors"
	"strconv"

	"github.com/BTreeMap/TemplateDesk/internal/genai"
	"github.com/BTreeMap/TemplateDesk/internal/generation"
	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// State is a point-in-time copy of a conversation.
type State struct {
	WorkspaceID       string                   `json:"workspace_id"`
	TemplateID        string                   `json:"template_id"`
	Template          *models.Template         `json:"template"`
	Transcript        []models.TranscriptEntry `json:"transcript"`
	Loading           bool                     `json:"loading"`
	Phase             Phase                    `json:"phase"`
	LastError         string                   `json:"last_error,omitempty"`
	LoadError         string                   `json:"load_error,omitempty"`
	PreviewIndex      int                      `json:"preview_index"`
	Validation        *models.ValidationResult `json:"validation,omitempty"`
	ValidationPending bool                     `json:"validation_pending"`
}

// Ready reports whether a canonical template is loaded.
func (s State) Ready() bool {
	return s.Template != nil
}

// PreviewMode reports whether a historical snapshot is displayed.
func (s State) PreviewMode() bool {
	return s.PreviewIndex >= 0 && s.PreviewIndex < len(s.Transcript) && s.Transcript[s.PreviewIndex].HasSnapshot()
}

// Displayed returns the template the preview panel should show.
func (s State) Displayed() *models.Template {
	if s.PreviewMode() {
		return s.Transcript[s.PreviewIndex].Template
	}
	return s.Template
}

// FailureCause classifies an exchange error for the exchange log:
// "status <code>", "malformed", "canceled", or "transport".
func FailureCause(err error) string {
	var statusErr *generation.StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status " + strconv.Itoa(statusErr.StatusCode)
	case errors.Is(err, generation.ErrMalformedResponse),
		errors.Is(err, genai.ErrMalformedOutput),
		errors.Is(err, genai.ErrNoChoicesReturned):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "transport"
	}
}
