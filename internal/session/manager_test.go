package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/prompt"
	"github.com/nikhilbhutani/jawn/internal/queue"
	"github.com/nikhilbhutani/jawn/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memStore struct {
	prompt   models.Prompt
	versions []models.PromptVersion
}

func newMemStore() *memStore {
	id := uuid.New()
	return &memStore{
		prompt: models.Prompt{ID: id, UserDefinedID: "greeting"},
		versions: []models.PromptVersion{{
			ID:               uuid.New(),
			PromptID:         id,
			MajorVersion:     1,
			HeliconeTemplate: models.ParsedDocument(json.RawMessage(`{"model":"gpt-4o","messages":[{"role":"user","content":"Hi {{name}}"}]}`)),
			Metadata:         models.ParsedDocument(json.RawMessage(`{"isProduction":true,"inputs":{"name":"Ada"}}`)),
		}},
	}
}

func (s *memStore) GetPrompt(_ context.Context, id uuid.UUID) (*models.Prompt, error) {
	if id != s.prompt.ID {
		return nil, prompt.ErrNotFound
	}
	p := s.prompt
	return &p, nil
}

func (s *memStore) ListVersions(context.Context, uuid.UUID) ([]models.PromptVersion, error) {
	return s.versions, nil
}

func (s *memStore) GetVersion(_ context.Context, id uuid.UUID) (*models.PromptVersion, error) {
	for _, v := range s.versions {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, prompt.ErrNotFound
}

func (s *memStore) CreateSubversion(context.Context, uuid.UUID, prompt.SubversionRequest) (*models.PromptVersion, error) {
	return nil, errors.New("read only")
}

func (s *memStore) Promote(context.Context, uuid.UUID, uuid.UUID) (*models.PromptVersion, error) {
	return nil, errors.New("read only")
}

func (s *memStore) SetUserDefinedID(context.Context, uuid.UUID, string) error {
	return errors.New("read only")
}

type holdExecutor struct {
	chunks []llm.StreamChunk
	hold   bool
}

func (e *holdExecutor) GenerateStream(ctx context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range e.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if e.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type fakeUsage struct {
	mu       sync.Mutex
	payloads []queue.UsageRecordPayload
	done     chan struct{}
}

func (f *fakeUsage) EnqueueUsageRecord(_ context.Context, p queue.UsageRecordPayload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orgCtx(org uuid.UUID) context.Context {
	return tenant.WithOrganization(context.Background(), org)
}

func TestManager_CreateGetDelete(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, &holdExecutor{}, WithLogger(quietLogger()))
	org := uuid.New()

	e, err := m.Create(orgCtx(org), store.prompt.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.ID, "sess_"))
	assert.Len(t, e.ID, len("sess_")+idLength)
	assert.Equal(t, org, e.Organization)
	assert.Equal(t, "Hi {{name}}", e.Session.Snapshot().State.Messages[0].Content)

	got, err := m.Get(orgCtx(org), e.ID)
	require.NoError(t, err)
	assert.Same(t, e, got)

	_, err = m.Get(orgCtx(uuid.New()), e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(orgCtx(org), e.ID))
	assert.ErrorIs(t, m.Delete(orgCtx(org), e.ID), ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestManager_CreateUnknownPrompt(t *testing.T) {
	m := NewManager(newMemStore(), &holdExecutor{}, WithLogger(quietLogger()))
	_, err := m.Create(context.Background(), uuid.New())
	assert.ErrorIs(t, err, prompt.ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestManager_SweepSkipsRunningSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemStore()
	m := NewManager(store, &holdExecutor{chunks: []llm.StreamChunk{{Content: "x"}}, hold: true},
		WithLogger(quietLogger()), WithIdleTTL(time.Minute))
	ctx := orgCtx(uuid.New())

	idle, err := m.Create(ctx, store.prompt.ID)
	require.NoError(t, err)
	busy, err := m.Create(ctx, store.prompt.ID)
	require.NoError(t, err)
	run := busy.Session.SaveAndRun(ctx)
	require.NotNil(t, run)

	assert.Zero(t, m.Sweep())

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, m.Sweep())
	_, err = m.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, busy.ID)
	assert.NoError(t, err)

	m.Close()
	run.Wait()
	assert.Zero(t, m.Len())
}

func TestManager_CompletionEnqueuesUsage(t *testing.T) {
	store := newMemStore()
	usage := &fakeUsage{done: make(chan struct{}, 1)}
	exec := &holdExecutor{chunks: []llm.StreamChunk{{Content: "Hello Ada"}, {Done: true, InputTokens: 9, OutputTokens: 3}}}
	m := NewManager(store, exec, WithLogger(quietLogger()), WithUsage(usage))
	org := uuid.New()

	e, err := m.Create(orgCtx(org), store.prompt.ID)
	require.NoError(t, err)
	e.Session.SaveAndRun(orgCtx(org)).Wait()

	select {
	case <-usage.done:
	case <-time.After(2 * time.Second):
		t.Fatal("usage not enqueued")
	}

	require.Len(t, usage.payloads, 1)
	p := usage.payloads[0]
	assert.Equal(t, org.String(), p.Organization)
	assert.Equal(t, store.versions[0].ID.String(), p.PromptVersionID)
	assert.Equal(t, "gpt-4o", p.Model)
	assert.Equal(t, []string{"Hi Ada"}, p.Prompt)
	assert.Equal(t, "Hello Ada", p.Response)
	assert.Equal(t, 9, p.InputTokens)
	assert.Equal(t, "ok", p.Status)
	assert.Equal(t, "prompt-session", p.Endpoint)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(newMemStore(), &holdExecutor{}, WithLogger(quietLogger()), WithIdleTTL(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
