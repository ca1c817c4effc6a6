package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/nikhilbhutani/jawn/internal/models"
)

// VersionStore persists prompts and their versions. *Service implements it.
type VersionStore interface {
	GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
	ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error)
	GetVersion(ctx context.Context, versionID uuid.UUID) (*models.PromptVersion, error)
	CreateSubversion(ctx context.Context, versionID uuid.UUID, req SubversionRequest) (*models.PromptVersion, error)
	Promote(ctx context.Context, versionID, previousProductionID uuid.UUID) (*models.PromptVersion, error)
	SetUserDefinedID(ctx context.Context, promptID uuid.UUID, userDefinedID string) error
}

// Executor opens a token stream for a chat request. The stream must stop
// once ctx is cancelled.
type Executor interface {
	GenerateStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notifier receives user-visible messages. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, Severity) {}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSaving  Phase = "saving"
	PhaseRunning Phase = "running"
)

type EventType string

const (
	EventStart EventType = "start"
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RunSummary describes a finished run.
type RunSummary struct {
	PromptID     uuid.UUID
	VersionID    uuid.UUID
	Provider     string
	Model        string
	Messages     []llm.Message
	Response     string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Cancelled    bool
	Err          error
}

// Run is a handle on a started run.
type Run struct {
	done    chan struct{}
	summary RunSummary
}

// Wait blocks until the run has terminated.
func (r *Run) Wait() RunSummary {
	<-r.done
	return r.summary
}

func (r *Run) Done() <-chan struct{} { return r.done }

const subscriberBuffer = 256

// Session is a prompt editing session. It owns the editing state, the known
// versions of the prompt and at most one active run.
type Session struct {
	store      VersionStore
	exec       Executor
	notifier   Notifier
	logger     *slog.Logger
	syntax     Syntax
	onComplete func(RunSummary)

	mu         sync.Mutex
	promptID   uuid.UUID
	prompt     *models.Prompt
	versions   []models.PromptVersion
	state      *State
	phase      Phase
	cancel     context.CancelFunc
	gen        uint64
	subs       map[chan Event]struct{}
	lastActive time.Time
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSyntax sets the placeholder syntax used when filling messages.
func WithSyntax(syn Syntax) Option {
	return func(s *Session) { s.syntax = syn }
}

// WithCompletionHook registers fn to be called after every run.
func WithCompletionHook(fn func(RunSummary)) Option {
	return func(s *Session) { s.onComplete = fn }
}

func NewSession(promptID uuid.UUID, store VersionStore, exec Executor, notifier Notifier, opts ...Option) *Session {
	s := &Session{
		store:      store,
		exec:       exec,
		notifier:   notifier,
		logger:     slog.Default(),
		syntax:     SyntaxAll,
		promptID:   promptID,
		phase:      PhaseIdle,
		subs:       make(map[chan Event]struct{}),
		lastActive: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	s.logger = s.logger.With("prompt_id", promptID)
	return s
}

// Open fetches the prompt and its versions and loads the newest version.
func (s *Session) Open(ctx context.Context) error {
	p, err := s.store.GetPrompt(ctx, s.promptID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	versions, err := s.store.ListVersions(ctx, s.promptID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("open session: prompt %s has no versions", s.promptID)
	}
	st, err := LoadVersion(s.promptID, &versions[0], versions)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = p
	s.versions = versions
	s.state = st
	s.touch()
	return nil
}

func (s *Session) PromptID() uuid.UUID { return s.promptID }

func (s *Session) touch() { s.lastActive = time.Now() }

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) editable() bool {
	return s.prompt == nil || s.prompt.CreatedFromUI()
}

// Mutate applies m to the state and marks it dirty if anything changed.
func (s *Session) Mutate(m Mutator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.state == nil {
		return false
	}
	return s.state.Apply(m(s.state), true)
}

type Snapshot struct {
	State         *State                 `json:"state"`
	Phase         Phase                  `json:"phase"`
	UserDefinedID string                 `json:"userDefinedId"`
	Editable      bool                   `json:"editable"`
	CanRun        bool                   `json:"canRun"`
	Versions      []models.PromptVersion `json:"versions"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:    s.state.Clone(),
		Phase:    s.phase,
		Editable: s.editable(),
		CanRun:   s.state.CanRun(s.editable()),
		Versions: append([]models.PromptVersion(nil), s.versions...),
	}
	if s.prompt != nil {
		snap.UserDefinedID = s.prompt.UserDefinedID
	}
	return snap
}

// Subscribe returns a channel of run events and a function that ends the
// subscription. Subscribers that fall behind are dropped.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// broadcastLocked must be called with s.mu held.
func (s *Session) broadcastLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Close cancels any active run and ends all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// Cancel stops the active run, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Session) cancelLocked() {
	if s.phase == PhaseIdle {
		return
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.phase = PhaseIdle
}

// SaveAndRun saves the state as a new version when it is dirty and streams a
// completion for it. Calling it while a run is active cancels that run
// instead. It returns nil when no run was started.
func (s *Session) SaveAndRun(ctx context.Context) *Run {
	run, _ := s.Toggle(ctx)
	return run
}

// Toggle is SaveAndRun that also reports whether the press cancelled an
// active run. Both results are decided under one lock.
func (s *Session) Toggle(ctx context.Context) (run *Run, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if !s.state.CanRun(s.editable()) {
		return nil, false
	}
	if s.phase != PhaseIdle {
		s.cancelLocked()
		return nil, true
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	s.cancel = cancel
	s.phase = PhaseRunning
	s.state.Apply(ClearResponse()(s.state), false)

	run = &Run{done: make(chan struct{})}
	go s.execute(runCtx, s.gen, run, s.state.IsDirty)
	return run, false
}

func (s *Session) execute(ctx context.Context, gen uint64, run *Run, dirty bool) {
	start := time.Now()
	notifyCtx := context.WithoutCancel(ctx)
	summary := &run.summary
	summary.PromptID = s.promptID

	defer func() {
		summary.Duration = time.Since(start)
		close(run.done)
		if s.onComplete != nil {
			s.onComplete(*summary)
		}
	}()

	if dirty {
		if err := s.save(ctx, gen); err != nil {
			if !s.isCancelled(ctx, gen, err) {
				s.notifier.Notify(notifyCtx, "Error saving prompt", SeverityError)
				s.logger.Error("save prompt version", "error", err)
			}
			s.finish(ctx, gen, summary, err, false)
			return
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		summary.Cancelled = true
		return
	}
	req := llm.ChatRequest{
		Provider:    s.state.Parameters.Provider,
		Model:       s.state.Parameters.Model,
		Temperature: s.state.Parameters.Temperature,
		Messages:    FillMessages(s.state.Messages, s.syntax, VariableValues(s.state.Variables)),
		Stream:      true,
	}
	summary.VersionID = s.state.VersionID
	summary.Provider = req.Provider
	summary.Model = req.Model
	summary.Messages = req.Messages
	s.broadcastLocked(Event{Type: EventStart})
	s.mu.Unlock()

	stream, err := s.exec.GenerateStream(ctx, req)
	if err != nil {
		s.finish(ctx, gen, summary, err, true)
		return
	}
	s.finish(ctx, gen, summary, s.consume(ctx, gen, stream, summary), true)
}

// save stores the state as a new major version of the newest known version
// and reloads the state from the stored record.
func (s *Session) save(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	if len(s.versions) == 0 {
		s.mu.Unlock()
		return errors.New("no version to save against")
	}
	s.phase = PhaseSaving
	latest := s.versions[0].ID
	req, err := s.subversionRequestLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	v, err := s.store.CreateSubversion(ctx, latest, req)
	if err != nil {
		return err
	}
	versions, err := s.store.ListVersions(ctx, s.promptID)
	if err != nil {
		s.logger.Warn("refresh versions after save", "error", err)
		s.mu.Lock()
		versions = append([]models.PromptVersion{*v}, s.versions...)
		s.mu.Unlock()
	}
	st, err := LoadVersion(s.promptID, v, versions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// The save went through even though the run was cancelled.
		s.versions = versions
		return context.Canceled
	}
	s.versions = versions
	s.state = st
	s.phase = PhaseRunning
	return nil
}

func (s *Session) subversionRequestLocked() (SubversionRequest, error) {
	st := s.state
	msgs, err := ToTemplateMessages(st.Messages)
	if err != nil {
		return SubversionRequest{}, err
	}
	temp := st.Parameters.Temperature
	tmpl, err := models.NewDocument(models.Template{
		Model:       st.Parameters.Model,
		Temperature: &temp,
		Messages:    msgs,
		Evals:       st.Evals,
		Structure:   st.Structure,
	})
	if err != nil {
		return SubversionRequest{}, err
	}
	createdFromUI := true
	meta, err := models.NewDocument(models.VersionMetadata{
		Provider:      st.Parameters.Provider,
		IsProduction:  false,
		CreatedFromUI: &createdFromUI,
		Inputs:        VariableValues(st.Variables),
	})
	if err != nil {
		return SubversionRequest{}, err
	}
	return SubversionRequest{
		NewHeliconeTemplate: tmpl.Bytes(),
		Metadata:            meta.Bytes(),
		IsMajorVersion:      true,
	}, nil
}

func (s *Session) consume(ctx context.Context, gen uint64, stream <-chan llm.StreamChunk, summary *RunSummary) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			if chunk.Error != nil {
				return chunk.Error
			}
			if chunk.InputTokens > 0 {
				summary.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				summary.OutputTokens = chunk.OutputTokens
			}
			if chunk.Content != "" {
				s.appendChunk(gen, chunk.Content)
			}
			if chunk.Done {
				return nil
			}
		}
	}
}

func (s *Session) appendChunk(gen uint64, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state == nil {
		return
	}
	s.state.Response += content
	s.broadcastLocked(Event{Type: EventChunk, Content: content})
}

func (s *Session) isCancelled(ctx context.Context, gen uint64, err error) bool {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// finish returns the session to idle unless a newer run owns it.
func (s *Session) finish(ctx context.Context, gen uint64, summary *RunSummary, err error, notify bool) {
	cancelled := err != nil && s.isCancelled(ctx, gen, err)
	if err != nil && !cancelled && notify {
		s.notifier.Notify(context.WithoutCancel(ctx), err.Error(), SeverityError)
		s.logger.Error("prompt run failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	summary.Cancelled = cancelled || s.gen != gen
	if !summary.Cancelled {
		summary.Err = err
	}
	if s.gen != gen {
		return
	}
	if s.state != nil {
		summary.Response = s.state.Response
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.phase = PhaseIdle
	switch {
	case err != nil && !cancelled:
		s.broadcastLocked(Event{Type: EventError, Error: err.Error()})
	default:
		s.broadcastLocked(Event{Type: EventDone})
	}
}

// LoadVersion switches the session to another stored version.
func (s *Session) LoadVersion(ctx context.Context, versionID uuid.UUID) error {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	if v.PromptID != s.promptID {
		return fmt.Errorf("load version %s: %w", versionID, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	st, err := LoadVersion(s.promptID, v, s.versions)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	// A run against the previous version must not write into this one.
	s.cancelLocked()
	s.state = st
	return nil
}

// Promote makes versionID the production version.
func (s *Session) Promote(ctx context.Context, versionID uuid.UUID) error {
	s.mu.Lock()
	s.touch()
	previous := versionID
	for i := range s.versions {
		if s.versions[i].IsProduction() {
			previous = s.versions[i].ID
			break
		}
	}
	s.mu.Unlock()

	v, err := s.store.Promote(ctx, versionID, previous)
	if err != nil {
		s.notifier.Notify(ctx, "Failed to promote version", SeverityError)
		s.logger.Error("promote version", "version_id", versionID, "error", err)
		return fmt.Errorf("promote: %w", err)
	}

	versions, err := s.store.ListVersions(ctx, s.promptID)
	if err != nil {
		s.logger.Warn("refresh versions after promote", "error", err)
	}

	s.mu.Lock()
	if err == nil {
		s.versions = versions
	}
	if s.state != nil {
		s.state.MasterVersion = v.MajorVersion
	}
	s.mu.Unlock()

	s.notifier.Notify(ctx, fmt.Sprintf("Promoted version %d to production.", v.MajorVersion), SeveritySuccess)
	return nil
}

// RenameID changes the prompt's user-defined id. The id is kebab-cased and
// an unchanged id is a no-op.
func (s *Session) RenameID(ctx context.Context, newID string) error {
	kebab := KebabCase(newID)

	s.mu.Lock()
	s.touch()
	current := ""
	if s.prompt != nil {
		current = s.prompt.UserDefinedID
	}
	s.mu.Unlock()

	if kebab == "" || kebab == current {
		return nil
	}

	if err := s.store.SetUserDefinedID(ctx, s.promptID, kebab); err != nil {
		s.notifier.Notify(ctx, "Failed to update prompt ID.", SeverityError)
		s.logger.Error("rename prompt", "user_defined_id", kebab, "error", err)
		return fmt.Errorf("rename: %w", err)
	}
	s.notifier.Notify(ctx, fmt.Sprintf("Updated prompt ID to %s.", kebab), SeveritySuccess)

	p, err := s.store.GetPrompt(ctx, s.promptID)
	if err != nil {
		s.logger.Warn("refetch prompt after rename", "error", err)
		return nil
	}
	s.mu.Lock()
	s.prompt = p
	s.mu.Unlock()
	return nil
}
