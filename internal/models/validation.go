package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationOutcome is the discriminant of a validation result.
type ValidationOutcome string

const (
	// ValidationApprove means the template is likely to be approved.
	ValidationApprove ValidationOutcome = "approve"
	// ValidationReject means the template is likely to be rejected.
	ValidationReject ValidationOutcome = "reject"
	// ValidationError means validation could not be completed.
	ValidationError ValidationOutcome = "error"
)

// IsValid reports whether o is a known outcome.
func (o ValidationOutcome) IsValid() bool {
	switch o {
	case ValidationApprove, ValidationReject, ValidationError:
		return true
	default:
		return false
	}
}

// ValidationResult is the approval-likelihood verdict for a template.
// Probability is a display label; for error results it carries a message.
type ValidationResult struct {
	Result      ValidationOutcome `json:"result"`
	Probability string            `json:"probability"`
}

// ValidationFailed builds an error result with the given message.
func ValidationFailed(message string) ValidationResult {
	return ValidationResult{Result: ValidationError, Probability: message}
}

// UnmarshalJSON accepts the probability as either a string or a number.
func (v *ValidationResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result      ValidationOutcome `json:"result"`
		Probability json.RawMessage   `json:"probability"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Result = raw.Result
	v.Probability = ""

	p := bytes.TrimSpace(raw.Probability)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil
	}
	if p[0] == '"' {
		return json.Unmarshal(p, &v.Probability)
	}
	var n float64
	if err := json.Unmarshal(p, &n); err != nil {
		return fmt.Errorf("probability must be a string or number: %w", err)
	}
	v.Probability = fmt.Sprintf("%g", n)
	return nil
}
