// Package models defines the core data structures for TemplateDesk.
//
// It includes the canonical message template record, conversation transcript
// entries, validation results, session context, and the API response envelope
// shared across modules.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// TemplateStatus is the review status of a stored template.
type TemplateStatus string

const (
	// TemplateStatusDraft marks a template that has not been submitted for review.
	TemplateStatusDraft TemplateStatus = "DRAFT"
	// TemplateStatusPending marks a template awaiting review.
	TemplateStatusPending TemplateStatus = "PENDING"
	// TemplateStatusApproved marks an approved template.
	TemplateStatusApproved TemplateStatus = "APPROVED"
	// TemplateStatusRejected marks a rejected template.
	TemplateStatusRejected TemplateStatus = "REJECTED"
)

// NewTemplateID is the template identifier used when authoring a template from scratch.
const NewTemplateID = "new"

// DefaultTemplateTitle is stored when a template is saved without a title.
const DefaultTemplateTitle = "Untitled"

var (
	// ErrInvalidTemplate is returned when a payload cannot be read as a template.
	ErrInvalidTemplate = errors.New("invalid template payload")
)

// Synonymous backend field names, in priority order.
var (
	idKeys        = []string{"id", "individualTemplateId", "templateId"}
	workspaceKeys = []string{"workspaceId", "workspace_id"}
	titleKeys     = []string{"title", "individualTemplateTitle"}
	textKeys      = []string{"text", "content", "individualTemplateContent"}
	buttonKeys    = []string{"button_name", "buttonTitle", "buttonName"}
	statusKeys    = []string{"status"}
)

// Template is the canonical internal template record. It is a value type:
// every accepted generation produces a new Template rather than mutating one.
type Template struct {
	ID          string         `json:"id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Title       string         `json:"title"`
	Text        string         `json:"text"`
	ButtonName  string         `json:"button_name,omitempty"`
	Status      TemplateStatus `json:"status,omitempty"`
}

// Clone returns an independent copy of the template.
func (t Template) Clone() Template {
	return t
}

// Equal reports whether two templates carry identical fields.
func (t Template) Equal(other Template) bool {
	return t == other
}

// HasButton reports whether the template carries a call-to-action label.
func (t Template) HasButton() bool {
	return strings.TrimSpace(t.ButtonName) != ""
}

// GenerationPayload is the template shape exchanged with the AI backend.
type GenerationPayload struct {
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	ButtonName *string `json:"button_name"`
}

// GenerationPayload converts the template into the AI backend wire shape.
func (t Template) GenerationPayload() GenerationPayload {
	p := GenerationPayload{Title: t.Title, Text: t.Text}
	if t.HasButton() {
		name := t.ButtonName
		p.ButtonName = &name
	}
	return p
}

// BackendPayload is the template shape accepted by the template backend.
type BackendPayload struct {
	Title       string         `json:"individualTemplateTitle"`
	Content     string         `json:"individualTemplateContent"`
	ButtonTitle *string        `json:"buttonTitle"`
	Status      TemplateStatus `json:"status"`
}

// BackendPayload converts the template into the template backend wire shape.
func (t Template) BackendPayload() BackendPayload {
	p := BackendPayload{Title: t.Title, Content: t.Text, Status: t.Status}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = DefaultTemplateTitle
	}
	if p.Status == "" {
		p.Status = TemplateStatusDraft
	}
	if t.HasButton() {
		name := t.ButtonName
		p.ButtonTitle = &name
	}
	return p
}

// NormalizeTemplate maps any known backend template shape onto Template.
// The payload may be a JSON object using any of the synonymous field names,
// or a JSON string whose content is such an object.
func NormalizeTemplate(raw []byte) (Template, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Template{}, ErrInvalidTemplate
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return Template{}, ErrInvalidTemplate
		}
		inner := bytes.TrimSpace([]byte(encoded))
		if len(inner) == 0 || inner[0] != '{' {
			return Template{}, ErrInvalidTemplate
		}
		raw = inner
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Template{}, ErrInvalidTemplate
	}

	return Template{
		ID:          firstField(fields, idKeys),
		WorkspaceID: firstField(fields, workspaceKeys),
		Title:       firstField(fields, titleKeys),
		Text:        firstField(fields, textKeys),
		ButtonName:  firstField(fields, buttonKeys),
		Status:      TemplateStatus(strings.ToUpper(firstField(fields, statusKeys))),
	}, nil
}

// firstField returns the first non-empty value among keys, reading strings
// and numbers alike.
func firstField(fields map[string]json.RawMessage, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if v := scalarString(raw); v != "" {
			return v
		}
	}
	return ""
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}
