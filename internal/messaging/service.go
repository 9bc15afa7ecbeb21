// Package messaging delivers template previews to a phone for testing.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/BTreeMap/TemplateDesk/internal/models"
	"github.com/BTreeMap/TemplateDesk/internal/store"
)

// minRecipientDigits is the shortest number accepted as a recipient.
const minRecipientDigits = 6

var (
	// ErrInvalidRecipient is returned for recipients that are not phone numbers.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrEmptyMessage is returned when the rendered template has no content.
	ErrEmptyMessage = errors.New("template has no content to send")
	// ErrNoOutbox is returned by QueueTemplate when no outbox is configured.
	ErrNoOutbox = errors.New("no outbox configured")
)

// Sender delivers one text message.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// ValidateAndCanonicalizeRecipient keeps the digits of recipient and returns
// them in E.164 form with a leading "+". Letters are rejected outright.
func ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(recipient), whatsAppPrefix))
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient cannot be empty", ErrInvalidRecipient)
	}
	var digits strings.Builder
	for _, r := range recipient {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case unicode.IsLetter(r):
			return "", fmt.Errorf("%w: %q contains letters", ErrInvalidRecipient, recipient)
		}
	}
	canonical := digits.String()
	if len(canonical) < minRecipientDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidRecipient, recipient, minRecipientDigits)
	}
	return "+" + canonical, nil
}

// RenderMessage renders t as plain text: title, blank line, text, then the
// button label in brackets when the template has one.
func RenderMessage(t models.Template) string {
	var parts []string
	if title := strings.TrimSpace(t.Title); title != "" {
		parts = append(parts, title)
	}
	if text := strings.TrimSpace(t.Text); text != "" {
		parts = append(parts, text)
	}
	body := strings.Join(parts, "\n\n")
	if t.HasButton() {
		body += "\n\n[" + strings.TrimSpace(t.ButtonName) + "]"
	}
	return strings.TrimSpace(body)
}

// deliveryPayload is the outbox payload of a template test.
type deliveryPayload struct {
	TemplateID string `json:"template_id"`
	Body       string `json:"body"`
}

// Service renders templates and hands them to a Sender, directly or through
// the outbox.
type Service struct {
	sender Sender
	outbox store.OutboxRepo
}

// NewService creates a messaging service. outbox may be nil, in which case
// only SendTemplate is available.
func NewService(sender Sender, outbox store.OutboxRepo) *Service {
	return &Service{sender: sender, outbox: outbox}
}

// SendTemplate validates to and sends the rendered template immediately.
func (s *Service) SendTemplate(ctx context.Context, to string, t models.Template) error {
	canonical, body, err := prepare(to, t)
	if err != nil {
		return err
	}
	if err := s.sender.SendMessage(ctx, canonical, body); err != nil {
		return err
	}
	slog.Info("Service.SendTemplate: template sent", "template_id", t.ID, "to", canonical)
	return nil
}

// QueueTemplate validates to and enqueues the rendered template for the
// outbox sender. Repeated requests for the same template content and
// recipient return the pending delivery.
func (s *Service) QueueTemplate(to string, t models.Template) (string, error) {
	if s.outbox == nil {
		return "", ErrNoOutbox
	}
	canonical, body, err := prepare(to, t)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(deliveryPayload{TemplateID: t.ID, Body: body})
	if err != nil {
		return "", fmt.Errorf("failed to encode delivery: %w", err)
	}
	dedupeKey := canonical + ":" + t.ID + ":" + body
	id, err := s.outbox.EnqueueOutboxMessage(canonical, store.OutboxKindTemplateTest, string(payload), dedupeKey)
	if err != nil {
		return "", fmt.Errorf("failed to queue delivery: %w", err)
	}
	slog.Info("Service.QueueTemplate: delivery queued", "id", id, "template_id", t.ID, "to", canonical)
	return id, nil
}

// Deliver sends one claimed outbox message. It is the outbox sender callback.
func (s *Service) Deliver(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != store.OutboxKindTemplateTest {
		return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
	}
	var payload deliveryPayload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("failed to decode delivery %s: %w", msg.ID, err)
	}
	return s.sender.SendMessage(ctx, msg.Recipient, payload.Body)
}

func prepare(to string, t models.Template) (string, string, error) {
	canonical, err := ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", "", err
	}
	body := RenderMessage(t)
	if body == "" {
		return "", "", ErrEmptyMessage
	}
	return canonical, body, nil
}

// SentMessage is one message recorded by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages instead of sending them.
type MockSender struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
