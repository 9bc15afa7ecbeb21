package models

import "time"

// ExchangeOutcome records how an exchange with the AI backend ended.
type ExchangeOutcome string

const (
	// ExchangeAccepted means the backend returned a replacement template.
	ExchangeAccepted ExchangeOutcome = "accepted"
	// ExchangeRejected means the exchange failed and the template was kept.
	ExchangeRejected ExchangeOutcome = "rejected"
)

// ExchangeRecord is one diagnostics row of the exchange log. Detail holds
// the backend error text for rejected exchanges; it is never shown to users.
type ExchangeRecord struct {
	ID          int64           `json:"id,omitempty"`
	WorkspaceID string          `json:"workspace_id"`
	TemplateID  string          `json:"template_id"`
	Instruction string          `json:"instruction"`
	Outcome     ExchangeOutcome `json:"outcome"`
	Detail      string          `json:"detail,omitempty"`
	Time        int64           `json:"time"`
}

// NewExchangeRecord stamps a record with the given time.
func NewExchangeRecord(workspaceID, templateID, instruction string, outcome ExchangeOutcome, detail string, at time.Time) ExchangeRecord {
	return ExchangeRecord{
		WorkspaceID: workspaceID,
		TemplateID:  templateID,
		Instruction: instruction,
		Outcome:     outcome,
		Detail:      detail,
		Time:        at.Unix(),
	}
}
