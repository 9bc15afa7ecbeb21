// Package view renders conversation state for the browser: the transcript
// panel, the preview panel, and the console page that combines them.
//
// Builders are pure functions of conversation.State; they never call back into
// the conversation. All state changes go through the orchestrator.
package view

import (
	"strings"

	"github.com/BTreeMap/TemplateDesk/internal/conversation"
	"github.com/BTreeMap/TemplateDesk/internal/models"
)

// Align is the horizontal placement of a transcript entry.
type Align string

const (
	AlignRight Align = "right"
	AlignLeft  Align = "left"
)

// EntryView is one rendered transcript entry.
type EntryView struct {
	Index          int              `json:"index"`
	Kind           models.EntryKind `json:"kind"`
	Text           string           `json:"text"`
	Align          Align            `json:"align"`
	ShowPreview    bool             `json:"show_preview"`
	PreviewEnabled bool             `json:"preview_enabled"`
	Previewed      bool             `json:"previewed"`
}

// TranscriptView is the rendered chat panel.
type TranscriptView struct {
	Entries       []EntryView `json:"entries"`
	InputDisabled bool        `json:"input_disabled"`
}

// BuildTranscriptView lays out the transcript. Bot entries expose a preview
// control that is enabled only when the entry carries a snapshot.
func BuildTranscriptView(s conversation.State) TranscriptView {
	entries := make([]EntryView, 0, len(s.Transcript))
	for i, e := range s.Transcript {
		ev := EntryView{Index: i, Kind: e.Kind, Text: e.Text, Align: AlignLeft}
		if e.Kind == models.EntryKindUser {
			ev.Align = AlignRight
		} else {
			ev.ShowPreview = true
			ev.PreviewEnabled = e.HasSnapshot()
			ev.Previewed = s.PreviewMode() && s.PreviewIndex == i
		}
		entries = append(entries, ev)
	}
	return TranscriptView{Entries: entries, InputDisabled: s.Loading}
}

// NormalizeInput is applied to the input box text before it is submitted.
func NormalizeInput(text string) string {
	return strings.TrimSpace(text)
}

// IndicatorKind selects the validation chip shown on the preview panel.
type IndicatorKind string

const (
	IndicatorNone    IndicatorKind = "none"
	IndicatorPending IndicatorKind = "pending"
	IndicatorApprove IndicatorKind = "approve"
	IndicatorReject  IndicatorKind = "reject"
	IndicatorError   IndicatorKind = "error"
)

// Indicator is the validation chip. Label is the probability for approve and
// reject, and the message for error.
type Indicator struct {
	Kind  IndicatorKind `json:"kind"`
	Label string        `json:"label,omitempty"`
}

// PreviewPanel is the rendered preview panel.
type PreviewPanel struct {
	Template           *models.Template `json:"template"`
	PreviewMode        bool             `json:"preview_mode"`
	ShowReturnToLatest bool             `json:"show_return_to_latest"`
	Indicator          Indicator        `json:"indicator"`
}

// BuildPreviewPanel picks the active template and the validation indicator.
// A pending validation replaces the outcome chip.
func BuildPreviewPanel(s conversation.State) PreviewPanel {
	p := PreviewPanel{
		Template:    s.Displayed(),
		PreviewMode: s.PreviewMode(),
	}
	p.ShowReturnToLatest = p.PreviewMode
	p.Indicator = indicatorFor(s.Validation, s.ValidationPending)
	return p
}

func indicatorFor(v *models.ValidationResult, pending bool) Indicator {
	if pending {
		return Indicator{Kind: IndicatorPending}
	}
	if v == nil {
		return Indicator{Kind: IndicatorNone}
	}
	switch v.Result {
	case models.ValidationApprove:
		return Indicator{Kind: IndicatorApprove, Label: v.Probability}
	case models.ValidationReject:
		return Indicator{Kind: IndicatorReject, Label: v.Probability}
	case models.ValidationError:
		return Indicator{Kind: IndicatorError, Label: v.Probability}
	default:
		return Indicator{Kind: IndicatorNone}
	}
}
