package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/audit"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPromptService struct {
	mock.Mock
}

func (m *mockPromptService) CreatePrompt(ctx context.Context, req prompt.CreatePromptRequest) (*models.Prompt, *models.PromptVersion, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*models.Prompt)
	v, _ := args.Get(1).(*models.PromptVersion)
	return p, v, args.Error(2)
}

func (m *mockPromptService) GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Prompt)
	return p, args.Error(1)
}

func (m *mockPromptService) ListPrompts(ctx context.Context, limit, offset int) ([]models.Prompt, error) {
	args := m.Called(ctx, limit, offset)
	p, _ := args.Get(0).([]models.Prompt)
	return p, args.Error(1)
}

func (m *mockPromptService) ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error) {
	args := m.Called(ctx, promptID)
	v, _ := args.Get(0).([]models.PromptVersion)
	return v, args.Error(1)
}

func (m *mockPromptService) CreateSubversion(ctx context.Context, versionID uuid.UUID, req prompt.SubversionRequest) (*models.PromptVersion, error) {
	args := m.Called(ctx, versionID, req)
	v, _ := args.Get(0).(*models.PromptVersion)
	return v, args.Error(1)
}

func (m *mockPromptService) Promote(ctx context.Context, versionID, previousProductionID uuid.UUID) (*models.PromptVersion, error) {
	args := m.Called(ctx, versionID, previousProductionID)
	v, _ := args.Get(0).(*models.PromptVersion)
	return v, args.Error(1)
}

func (m *mockPromptService) SetUserDefinedID(ctx context.Context, promptID uuid.UUID, userDefinedID string) error {
	return m.Called(ctx, promptID, userDefinedID).Error(0)
}

func (m *mockPromptService) CompileTemplate(ctx context.Context, userDefinedID string, inputs map[string]string) (*prompt.CompiledTemplate, error) {
	args := m.Called(ctx, userDefinedID, inputs)
	c, _ := args.Get(0).(*prompt.CompiledTemplate)
	return c, args.Error(1)
}

type recordingAudit struct {
	entries []audit.LogEntry
	err     error
}

func (a *recordingAudit) Log(_ context.Context, e audit.LogEntry) error {
	a.entries = append(a.entries, e)
	return a.err
}

func promptRouter(h *PromptHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/prompt", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Post("/version/{promptVersionId}/subversion", h.CreateSubversion)
		r.Post("/version/{promptVersionId}/promote", h.Promote)
		r.Get("/{promptId}", h.Get)
		r.Get("/{promptId}/versions", h.Versions)
		r.Patch("/{promptId}/user-defined-id", h.SetUserDefinedID)
		r.Post("/{promptId}/template", h.CompileTemplate)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestPromptHandler_Create(t *testing.T) {
	svc := new(mockPromptService)
	rec := &recordingAudit{}
	h := promptRouter(NewPromptHandler(svc, rec))

	p := &models.Prompt{ID: uuid.New(), UserDefinedID: "my-prompt"}
	v := &models.PromptVersion{ID: uuid.New(), PromptID: p.ID, MajorVersion: 0}
	svc.On("CreatePrompt", mock.Anything, mock.MatchedBy(func(req prompt.CreatePromptRequest) bool {
		return req.UserDefinedID == "my-prompt"
	})).Return(p, v, nil)

	w := do(t, h, http.MethodPost, "/v1/prompt", `{"userDefinedId":"My Prompt","promptBody":{"messages":[]}}`)

	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, p.ID.String(), body["id"])
	assert.Equal(t, v.ID.String(), body["prompt_version_id"])
	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.ActionPromptCreate, rec.entries[0].Action)
	svc.AssertExpectations(t)
}

func TestPromptHandler_CreateConflict(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	svc.On("CreatePrompt", mock.Anything, mock.Anything).Return(nil, nil, prompt.ErrConflict)

	w := do(t, h, http.MethodPost, "/v1/prompt", `{"userDefinedId":"taken"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPromptHandler_CreateValidation(t *testing.T) {
	h := promptRouter(NewPromptHandler(new(mockPromptService), nil))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/prompt", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/prompt", `{"userDefinedId":"  "}`).Code)
}

func TestPromptHandler_GetNotFound(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	id := uuid.New()
	svc.On("GetPrompt", mock.Anything, id).Return(nil, prompt.ErrNotFound)

	w := do(t, h, http.MethodGet, "/v1/prompt/"+id.String(), "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/prompt/not-a-uuid", "").Code)
}

func TestPromptHandler_ListDefaults(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	svc.On("ListPrompts", mock.Anything, 20, 0).Return([]models.Prompt{{ID: uuid.New()}}, nil)

	w := do(t, h, http.MethodGet, "/v1/prompt", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
	svc.AssertExpectations(t)
}

func TestPromptHandler_Versions(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	id := uuid.New()
	svc.On("ListVersions", mock.Anything, id).Return([]models.PromptVersion{{ID: uuid.New()}, {ID: uuid.New()}}, nil)

	w := do(t, h, http.MethodGet, "/v1/prompt/"+id.String()+"/versions", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["count"])
}

func TestPromptHandler_CreateSubversion(t *testing.T) {
	svc := new(mockPromptService)
	rec := &recordingAudit{}
	h := promptRouter(NewPromptHandler(svc, rec))
	base := uuid.New()
	created := &models.PromptVersion{ID: uuid.New(), MajorVersion: 1, MinorVersion: 1}
	svc.On("CreateSubversion", mock.Anything, base, mock.MatchedBy(func(req prompt.SubversionRequest) bool {
		return !req.IsMajorVersion && len(req.NewHeliconeTemplate) > 0
	})).Return(created, nil)

	w := do(t, h, http.MethodPost, "/v1/prompt/version/"+base.String()+"/subversion",
		`{"newHeliconeTemplate":{"messages":[]},"isMajorVersion":false}`)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.ActionPromptVersion, rec.entries[0].Action)
	assert.Equal(t, created.ID, *rec.entries[0].ResourceID)

	w = do(t, h, http.MethodPost, "/v1/prompt/version/"+base.String()+"/subversion", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromptHandler_Promote(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	target, previous := uuid.New(), uuid.New()
	svc.On("Promote", mock.Anything, target, previous).Return(&models.PromptVersion{ID: target}, nil)

	w := do(t, h, http.MethodPost, "/v1/prompt/version/"+target.String()+"/promote",
		`{"previousProductionVersionId":"`+previous.String()+`"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestPromptHandler_PromoteWithoutPrevious(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	target := uuid.New()
	svc.On("Promote", mock.Anything, target, target).Return(&models.PromptVersion{ID: target}, nil)

	w := do(t, h, http.MethodPost, "/v1/prompt/version/"+target.String()+"/promote", `{}`)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestPromptHandler_SetUserDefinedID(t *testing.T) {
	svc := new(mockPromptService)
	rec := &recordingAudit{err: errors.New("audit down")}
	h := promptRouter(NewPromptHandler(svc, rec))
	id := uuid.New()
	svc.On("SetUserDefinedID", mock.Anything, id, "new-name").Return(nil).Once()

	w := do(t, h, http.MethodPatch, "/v1/prompt/"+id.String()+"/user-defined-id", `{"userDefinedId":"New Name"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new-name", decodeBody(t, w)["userDefinedId"])
	assert.Len(t, rec.entries, 1)

	svc.On("SetUserDefinedID", mock.Anything, id, "taken").Return(prompt.ErrConflict)
	w = do(t, h, http.MethodPatch, "/v1/prompt/"+id.String()+"/user-defined-id", `{"userDefinedId":"taken"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPromptHandler_CompileTemplate(t *testing.T) {
	svc := new(mockPromptService)
	h := promptRouter(NewPromptHandler(svc, nil))
	compiled := &prompt.CompiledTemplate{
		PromptID:               uuid.New(),
		PromptVersionID:        uuid.New(),
		FilledHeliconeTemplate: json.RawMessage(`{"messages":[{"role":"user","content":"Hi Ada"}]}`),
	}
	svc.On("CompileTemplate", mock.Anything, "greeting", map[string]string{"name": "Ada"}).Return(compiled, nil)

	w := do(t, h, http.MethodPost, "/v1/prompt/greeting/template", `{"inputs":{"name":"Ada"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hi Ada")
	svc.AssertExpectations(t)
}

func TestWriteDecodeError_TooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userDefinedId":"abcdefghijklmnop"}`))
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 8)

	var v map[string]string
	err := decodeJSON(req, &v)
	require.Error(t, err)
	writeDecodeError(w, err)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
