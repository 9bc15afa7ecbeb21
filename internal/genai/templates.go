package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

const exchangeSystemPrompt = `You edit notification message templates for a business messaging channel.
A template has a title, a body text and an optional button name.
Variables in the body are written as #{variable}; keep existing variables unless told otherwise.
Apply the user's instruction to the current template and answer with a single JSON object, no prose:
{"template":{"title":"...","text":"...","button_name":"... or null"},"chat_response":"one or two sentences describing the change"}`

const validateSystemPrompt = `You are an experienced reviewer deciding whether a notification message template will be approved.
Check the template (title, text, button) against the review guidelines. Look for policy violations,
misleading wording and advertising content.
Answer with a single JSON object, no prose:
{"prediction":"Approved" or "Not Approved","confidence":0.0-1.0,"probabilities":{"Approved":0.0-1.0,"Not Approved":0.0-1.0}}`

// exchangeOutput is the reply shape requested by exchangeSystemPrompt.
type exchangeOutput struct {
	Template     json.RawMessage `json:"template"`
	ChatResponse string          `json:"chat_response"`
}

// validateOutput is the reply shape requested by validateSystemPrompt.
type validateOutput struct {
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Exchange applies instruction to current and returns the replacement
// template with the model's reply.
func (c *Client) Exchange(ctx context.Context, current models.Template, instruction string) (models.Template, string, error) {
	payload, err := json.Marshal(current.GenerationPayload())
	if err != nil {
		return models.Template{}, "", fmt.Errorf("failed to encode template: %w", err)
	}
	user := fmt.Sprintf("Current template:\n%s\n\nInstruction:\n%s", payload, instruction)

	reply, err := c.complete(ctx, "Exchange", exchangeSystemPrompt, user)
	if err != nil {
		return models.Template{}, "", err
	}

	var out exchangeOutput
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		slog.Warn("Client.Exchange: reply is not JSON", "error", err, "reply_len", len(reply))
		return models.Template{}, "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(out.ChatResponse) == "" {
		return models.Template{}, "", fmt.Errorf("%w: missing chat_response", ErrMalformedOutput)
	}
	next, err := models.NormalizeTemplate(out.Template)
	if err != nil {
		return models.Template{}, "", fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	next.ID = current.ID
	next.WorkspaceID = current.WorkspaceID
	next.Status = current.Status
	return next, out.ChatResponse, nil
}

// Validate predicts whether t would pass review.
func (c *Client) Validate(ctx context.Context, t models.Template) (models.ValidationResult, error) {
	payload, err := json.Marshal(t.GenerationPayload())
	if err != nil {
		return models.ValidationResult{}, fmt.Errorf("failed to encode template: %w", err)
	}
	user := fmt.Sprintf("Template:\n%s", payload)
	if c.guidelines != "" {
		user += "\n\nReview guidelines:\n" + c.guidelines
	}

	reply, err := c.complete(ctx, "Validate", validateSystemPrompt, user)
	if err != nil {
		return models.ValidationResult{}, err
	}
	var out validateOutput
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &out); err != nil {
		return models.ValidationResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if out.Prediction == "" {
		return models.ValidationResult{}, fmt.Errorf("%w: missing prediction", ErrMalformedOutput)
	}
	return verdict(out), nil
}

// verdict maps a classifier reply to the display result: approve iff the
// prediction is "Approved"; the label is the highest class probability, or
// the confidence when no probabilities were given.
func verdict(out validateOutput) models.ValidationResult {
	score := out.Confidence
	if len(out.Probabilities) > 0 {
		score = math.Inf(-1)
		for _, p := range out.Probabilities {
			score = math.Max(score, p)
		}
	}
	label := strconv.FormatFloat(math.Round(score*10000)/100, 'f', -1, 64) + "%"

	result := models.ValidationReject
	if out.Prediction == "Approved" {
		result = models.ValidationApprove
	}
	return models.ValidationResult{Result: result, Probability: label}
}
