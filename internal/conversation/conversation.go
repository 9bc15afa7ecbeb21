// Package conversation implements the template-generation conversation: the
// per-page orchestrator that owns the canonical template, the transcript, and
// the loading flag, and mediates every exchange with the AI backend.
//
// A Conversation is the sole writer of its state. Readers get deep copies via
// State, so rendering code can never mutate the transcript or a snapshot.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TemplateDesk/internal/models"
)

const (
	// DefaultGreeting is the synthetic first bot entry of every transcript.
	DefaultGreeting = "Hello. I can help you edit this template. What would you like to change?"
	// ExchangeFailedMessage is the fixed bot reply shown when an exchange fails.
	ExchangeFailedMessage = "The request failed. Please try again."
	// TemplateLoadFailedMessage is shown instead of the conversation when the
	// initial template fetch fails.
	TemplateLoadFailedMessage = "Failed to load the template."
	// ValidationFailedMessage is the label of an error validation result.
	ValidationFailedMessage = "Validation failed"
)

var (
	// ErrNotReady is returned when an operation needs a loaded template.
	ErrNotReady = errors.New("conversation has no template loaded")
	// ErrNoSnapshot is returned when previewing an entry without a template snapshot.
	ErrNoSnapshot = errors.New("entry has no template snapshot")
	// ErrNoValidator is returned by Validate when no validator is configured.
	ErrNoValidator = errors.New("no validator configured")
	// ErrBusy is returned when Initialize is called while an exchange is in flight.
	ErrBusy = errors.New("an exchange is in flight")
	// ErrLoadFailed wraps the loader error returned by Initialize.
	ErrLoadFailed = errors.New("template load failed")
)

// TemplateLoader fetches the template that seeds a conversation.
type TemplateLoader interface {
	GetTemplate(ctx context.Context, sess *models.SessionContext, workspaceID, templateID string) (models.Template, error)
}

// Generator performs one exchange with the AI backend.
type Generator interface {
	Exchange(ctx context.Context, current models.Template, instruction string) (models.Template, string, error)
}

// Validator predicts the approval outcome of a template.
type Validator interface {
	Validate(ctx context.Context, t models.Template) (models.ValidationResult, error)
}

// Persister stores an accepted template with the template backend.
type Persister interface {
	CreateTemplate(ctx context.Context, sess *models.SessionContext, workspaceID string, t models.Template) (models.Template, error)
}

// SessionSource resolves the current session context by id. Every call
// returns an independent copy holding the latest tokens.
type SessionSource interface {
	Get(ctx context.Context, id string) (*models.SessionContext, error)
}

// Recorder receives one diagnostics record per exchange.
type Recorder interface {
	AddExchange(rec models.ExchangeRecord) (models.ExchangeRecord, error)
}

// Phase is the per-submission state: Idle or Sending.
type Phase string

const (
	// PhaseIdle means no exchange is in flight and input is accepted.
	PhaseIdle Phase = "idle"
	// PhaseSending means an exchange is in flight and input is suppressed.
	PhaseSending Phase = "sending"
)

// SubmitResult reports what SubmitInstruction did with an instruction.
type SubmitResult string

const (
	// SubmitIgnored means the instruction was suppressed without touching state.
	SubmitIgnored SubmitResult = "ignored"
	// SubmitAccepted means the exchange succeeded and the template was replaced.
	SubmitAccepted SubmitResult = "accepted"
	// SubmitRejected means the exchange failed and the template was kept.
	SubmitRejected SubmitResult = "rejected"
)

// Opts holds configuration options for a Conversation.
type Opts struct {
	Greeting     string
	Validator    Validator
	AutoValidate bool
	Persister    Persister
	Recorder     Recorder
	Sessions     SessionSource
	SessionID    string
	Clock        func() time.Time
}

// Option defines a configuration option for a Conversation.
type Option func(*Opts)

// WithGreeting overrides the synthetic greeting entry.
func WithGreeting(text string) Option {
	return func(o *Opts) { o.Greeting = text }
}

// WithValidator sets the validator used by Validate and auto-validation.
func WithValidator(v Validator) Option {
	return func(o *Opts) { o.Validator = v }
}

// WithAutoValidate validates the new template after every accepted exchange.
func WithAutoValidate(enabled bool) Option {
	return func(o *Opts) { o.AutoValidate = enabled }
}

// WithPersister saves every accepted template with the template backend.
func WithPersister(p Persister) Option {
	return func(o *Opts) { o.Persister = p }
}

// WithRecorder writes every exchange to the exchange log.
func WithRecorder(r Recorder) Option {
	return func(o *Opts) { o.Recorder = r }
}

// WithSessionSource makes the persister run with the current state of session
// sessionID, looked up from src at save time.
func WithSessionSource(src SessionSource, sessionID string) Option {
	return func(o *Opts) {
		o.Sessions = src
		o.SessionID = sessionID
	}
}

// WithClock overrides the time source used for exchange records.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Conversation is the orchestrator for one page visit.
type Conversation struct {
	loader    TemplateLoader
	generator Generator
	cfg       Opts

	mu                sync.Mutex
	workspaceID       string
	templateID        string
	template          *models.Template
	transcript        []models.TranscriptEntry
	phase             Phase
	lastError         string
	loadError         string
	previewIndex      int
	validation        *models.ValidationResult
	validatedFor      *models.Template
	validationPending bool
	validationSeq     uint64
}

// New creates a conversation whose transcript holds only the greeting.
func New(loader TemplateLoader, generator Generator, opts ...Option) *Conversation {
	cfg := Opts{Greeting: DefaultGreeting, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Conversation{
		loader:    loader,
		generator: generator,
		cfg:       cfg,
	}
	c.reset()
	return c
}

// reset restores the fresh-visit state. Callers hold mu or own c exclusively.
func (c *Conversation) reset() {
	c.template = nil
	c.transcript = []models.TranscriptEntry{models.BotEntry(c.cfg.Greeting)}
	c.phase = PhaseIdle
	c.lastError = ""
	c.loadError = ""
	c.previewIndex = -1
	c.validation = nil
	c.validatedFor = nil
	c.validationPending = false
	c.validationSeq++
}

// Initialize seeds the canonical template for workspaceID/templateID, fetched
// with the requesting session sess. The template id "new" starts from an
// empty template without a fetch. On load failure the conversation stays
// not-ready and LoadError is set.
func (c *Conversation) Initialize(ctx context.Context, sess *models.SessionContext, workspaceID, templateID string) error {
	c.mu.Lock()
	if c.phase == PhaseSending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.reset()
	c.workspaceID = workspaceID
	c.templateID = templateID
	c.mu.Unlock()

	if templateID == models.NewTemplateID {
		seed := models.Template{WorkspaceID: workspaceID, Status: models.TemplateStatusDraft}
		c.mu.Lock()
		c.template = &seed
		c.mu.Unlock()
		slog.Debug("Conversation.Initialize: new template", "workspace_id", workspaceID)
		return nil
	}

	loaded, err := c.loader.GetTemplate(ctx, sess, workspaceID, templateID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.workspaceID != workspaceID || c.templateID != templateID {
		// Re-initialized while loading; the newer call owns the state.
		return nil
	}
	if err != nil {
		c.loadError = TemplateLoadFailedMessage
		slog.Error("Conversation.Initialize: failed to fetch template", "error", err, "workspace_id", workspaceID, "template_id", templateID)
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	c.template = &loaded
	slog.Debug("Conversation.Initialize: template loaded", "workspace_id", workspaceID, "template_id", templateID)
	return nil
}

// SubmitInstruction runs one exchange. Blank text, a missing template, or an
// exchange already in flight make it a no-op.
func (c *Conversation) SubmitInstruction(ctx context.Context, text string) SubmitResult {
	c.mu.Lock()
	if strings.TrimSpace(text) == "" || c.template == nil || c.phase == PhaseSending {
		c.mu.Unlock()
		return SubmitIgnored
	}
	c.transcript = append(c.transcript, models.UserEntry(text))
	c.phase = PhaseSending
	c.lastError = ""
	current := c.template.Clone()
	workspaceID, templateID := c.workspaceID, c.templateID
	c.mu.Unlock()

	// The in-flight call outlives the request that triggered it.
	exchangeCtx := context.WithoutCancel(ctx)
	next, reply, err := c.generator.Exchange(exchangeCtx, current, text)

	if err != nil {
		c.mu.Lock()
		c.transcript = append(c.transcript, models.BotEntry(ExchangeFailedMessage))
		c.lastError = ExchangeFailedMessage
		c.phase = PhaseIdle
		c.mu.Unlock()

		slog.Error("Conversation.SubmitInstruction: exchange failed", "error", err, "cause", FailureCause(err), "workspace_id", workspaceID, "template_id", templateID)
		c.record(workspaceID, templateID, text, models.ExchangeRejected, FailureCause(err)+": "+err.Error())
		return SubmitRejected
	}

	c.mu.Lock()
	c.template = &next
	c.transcript = append(c.transcript, models.BotEntryWithSnapshot(reply, next))
	c.phase = PhaseIdle
	c.validation = nil
	c.validatedFor = nil
	c.validationSeq++
	seq := c.validationSeq
	autoValidate := c.cfg.AutoValidate && c.cfg.Validator != nil
	c.validationPending = autoValidate
	if autoValidate {
		subject := next.Clone()
		c.validatedFor = &subject
	}
	c.mu.Unlock()

	slog.Info("Conversation.SubmitInstruction: exchange accepted", "workspace_id", workspaceID, "template_id", templateID, "reply_len", len(reply))
	c.record(workspaceID, templateID, text, models.ExchangeAccepted, "")

	if autoValidate {
		c.runValidation(exchangeCtx, next, seq)
	}
	c.persist(exchangeCtx, workspaceID, next)
	return SubmitAccepted
}

// Validate runs the validator on the displayed template.
func (c *Conversation) Validate(ctx context.Context) (models.ValidationResult, error) {
	if c.cfg.Validator == nil {
		return models.ValidationResult{}, ErrNoValidator
	}
	c.mu.Lock()
	displayed, ok := c.displayedLocked()
	if !ok {
		c.mu.Unlock()
		return models.ValidationResult{}, ErrNotReady
	}
	c.validationSeq++
	seq := c.validationSeq
	c.validationPending = true
	c.validation = nil
	subject := displayed.Clone()
	c.validatedFor = &subject
	c.mu.Unlock()

	return c.runValidation(ctx, displayed, seq), nil
}

// runValidation validates t and stores the result unless a newer validation
// or exchange superseded it.
func (c *Conversation) runValidation(ctx context.Context, t models.Template, seq uint64) models.ValidationResult {
	result, err := c.cfg.Validator.Validate(ctx, t)
	if err != nil {
		slog.Warn("Conversation.runValidation: validator failed", "error", err, "template_id", t.ID)
		result = models.ValidationFailed(ValidationFailedMessage)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq == c.validationSeq {
		c.validation = &result
		c.validationPending = false
	}
	return result
}

func (c *Conversation) persist(ctx context.Context, workspaceID string, t models.Template) {
	if c.cfg.Persister == nil {
		return
	}
	if c.cfg.Sessions == nil {
		slog.Warn("Conversation.persist: no session source, template not saved", "workspace_id", workspaceID)
		return
	}
	sess, err := c.cfg.Sessions.Get(ctx, c.cfg.SessionID)
	if err != nil {
		slog.Error("Conversation.persist: failed to resolve session", "error", err, "session_id", c.cfg.SessionID, "workspace_id", workspaceID)
		return
	}
	stored, err := c.cfg.Persister.CreateTemplate(ctx, sess, workspaceID, t)
	if err != nil {
		slog.Error("Conversation.persist: failed to save template", "error", err, "workspace_id", workspaceID)
		return
	}
	slog.Debug("Conversation.persist: template saved", "workspace_id", workspaceID, "stored_id", stored.ID)
}

func (c *Conversation) record(workspaceID, templateID, instruction string, outcome models.ExchangeOutcome, detail string) {
	if c.cfg.Recorder == nil {
		return
	}
	rec := models.NewExchangeRecord(workspaceID, templateID, instruction, outcome, detail, c.cfg.Clock())
	if _, err := c.cfg.Recorder.AddExchange(rec); err != nil {
		slog.Error("Conversation.record: failed to write exchange record", "error", err, "workspace_id", workspaceID, "outcome", outcome)
	}
}

// PreviewEntry displays the snapshot of transcript entry index instead of the
// canonical template. Only the display changes.
func (c *Conversation) PreviewEntry(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.transcript) || !c.transcript[index].HasSnapshot() {
		return ErrNoSnapshot
	}
	c.previewIndex = index
	return nil
}

// ReturnToLatest leaves preview mode.
func (c *Conversation) ReturnToLatest() {
	c.mu.Lock()
	c.previewIndex = -1
	c.mu.Unlock()
}

// DisplayedTemplate returns the previewed snapshot, or the canonical template
// outside preview mode. ok is false when no template is loaded.
func (c *Conversation) DisplayedTemplate() (models.Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayedLocked()
}

func (c *Conversation) displayedLocked() (models.Template, bool) {
	if c.previewIndex >= 0 && c.previewIndex < len(c.transcript) {
		if snap := c.transcript[c.previewIndex].Template; snap != nil {
			return snap.Clone(), true
		}
	}
	if c.template == nil {
		return models.Template{}, false
	}
	return c.template.Clone(), true
}

// State returns a deep copy of the conversation state. Validation and
// ValidationPending are only reported when they describe the displayed template.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		WorkspaceID:       c.workspaceID,
		TemplateID:        c.templateID,
		Transcript:        make([]models.TranscriptEntry, len(c.transcript)),
		Loading:           c.phase == PhaseSending,
		Phase:             c.phase,
		LastError:         c.lastError,
		LoadError:         c.loadError,
		PreviewIndex:      c.previewIndex,
	}
	for i, e := range c.transcript {
		s.Transcript[i] = e.Clone()
	}
	if c.template != nil {
		t := c.template.Clone()
		s.Template = &t
	}
	if displayed, ok := c.displayedLocked(); ok && c.validatedFor != nil && c.validatedFor.Equal(displayed) {
		s.ValidationPending = c.validationPending
		if c.validation != nil {
			v := *c.validation
			s.Validation = &v
		}
	}
	return s
}
