package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nikhilbhutani/jawn/internal/metrics"
	"github.com/nikhilbhutani/jawn/internal/prompt"
	"github.com/nikhilbhutani/jawn/internal/queue"
	"github.com/nikhilbhutani/jawn/internal/tenant"
)

const (
	idPrefix = "sess"
	idLength = 21

	usageEndpoint = "prompt-session"
)

var ErrNotFound = errors.New("session: not found")

// UsageEnqueuer hands finished runs to the usage worker. *queue.Client
// implements it.
type UsageEnqueuer interface {
	EnqueueUsageRecord(ctx context.Context, payload queue.UsageRecordPayload) error
}

// Entry is an open editing session.
type Entry struct {
	ID            string
	Organization  uuid.UUID
	CreatedAt     time.Time
	Session       *prompt.Session
	Notifications *NotificationLog
}

type Manager struct {
	store  prompt.VersionStore
	exec   prompt.Executor
	usage  UsageEnqueuer
	logger *slog.Logger
	ttl    time.Duration
	syntax prompt.Syntax
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Entry
}

type Option func(*Manager)

func WithUsage(u UsageEnqueuer) Option {
	return func(m *Manager) { m.usage = u }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

func WithSyntax(syn prompt.Syntax) Option {
	return func(m *Manager) { m.syntax = syn }
}

func NewManager(store prompt.VersionStore, exec prompt.Executor, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		exec:     exec,
		logger:   slog.Default(),
		ttl:      30 * time.Minute,
		syntax:   prompt.SyntaxAll,
		now:      time.Now,
		sessions: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newID() (string, error) {
	id, err := nanoid.New(idLength)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return idPrefix + "_" + id, nil
}

// Create opens a session on the newest version of promptID for the
// organization in ctx.
func (m *Manager) Create(ctx context.Context, promptID uuid.UUID) (*Entry, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	org := tenant.OrganizationID(ctx)
	logger := m.logger.With("session_id", id)
	notes := NewNotificationLog(logger, defaultNotificationLimit)

	sess := prompt.NewSession(promptID, m.store, m.exec, notes,
		prompt.WithLogger(logger),
		prompt.WithSyntax(m.syntax),
		prompt.WithCompletionHook(m.completionHook(org, logger)),
	)
	if err := sess.Open(ctx); err != nil {
		return nil, err
	}

	e := &Entry{
		ID:            id,
		Organization:  org,
		CreatedAt:     m.now(),
		Session:       sess,
		Notifications: notes,
	}
	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	logger.Info("session opened", "prompt_id", promptID)
	return e, nil
}

// Get returns the session if it belongs to the organization in ctx.
func (m *Manager) Get(ctx context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || e.Organization != tenant.OrganizationID(ctx) {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	e, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.remove(e)
	return nil
}

func (m *Manager) remove(e *Entry) {
	m.mu.Lock()
	_, ok := m.sessions[e.ID]
	delete(m.sessions, e.ID)
	m.mu.Unlock()
	if !ok {
		return
	}
	e.Session.Close()
	metrics.SessionsActive.Dec()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL. Sessions with an
// active run are kept.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var stale []*Entry
	for _, e := range m.sessions {
		if e.Session.Phase() == prompt.PhaseIdle && e.Session.LastActive().Before(cutoff) {
			stale = append(stale, e)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		m.remove(e)
		m.logger.Info("session expired", "session_id", e.ID)
	}
	return len(stale)
}

// Run sweeps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close cancels every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		all = append(all, e)
	}
	m.mu.Unlock()
	for _, e := range all {
		m.remove(e)
	}
}

func (m *Manager) completionHook(org uuid.UUID, logger *slog.Logger) func(prompt.RunSummary) {
	return func(s prompt.RunSummary) {
		status := metrics.RunStatus(s.Cancelled, s.Err)
		if s.Provider != "" {
			metrics.PromptRunsTotal.WithLabelValues(s.Provider, s.Model, status).Inc()
			metrics.PromptRunDuration.WithLabelValues(s.Provider, s.Model).Observe(s.Duration.Seconds())
		}

		// Nothing reached the provider.
		if m.usage == nil || s.Provider == "" || (s.Err != nil && s.Response == "") {
			return
		}

		payload := queue.UsageRecordPayload{
			Organization: org.String(),
			PromptID:     s.PromptID.String(),
			Provider:     s.Provider,
			Model:        s.Model,
			Response:     s.Response,
			InputTokens:  s.InputTokens,
			OutputTokens: s.OutputTokens,
			LatencyMs:    int(s.Duration.Milliseconds()),
			Endpoint:     usageEndpoint,
			Status:       status,
		}
		if s.VersionID != uuid.Nil {
			payload.PromptVersionID = s.VersionID.String()
		}
		for _, msg := range s.Messages {
			payload.Prompt = append(payload.Prompt, msg.Content)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.usage.EnqueueUsageRecord(ctx, payload); err != nil {
			logger.Warn("enqueue usage record", "error", err)
		}
	}
}
