package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/audit"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/prompt"
)

// PromptService is the prompt persistence used by the HTTP layer.
// *prompt.Service implements it.
type PromptService interface {
	CreatePrompt(ctx context.Context, req prompt.CreatePromptRequest) (*models.Prompt, *models.PromptVersion, error)
	GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
	ListPrompts(ctx context.Context, limit, offset int) ([]models.Prompt, error)
	ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error)
	CreateSubversion(ctx context.Context, versionID uuid.UUID, req prompt.SubversionRequest) (*models.PromptVersion, error)
	Promote(ctx context.Context, versionID, previousProductionID uuid.UUID) (*models.PromptVersion, error)
	SetUserDefinedID(ctx context.Context, promptID uuid.UUID, userDefinedID string) error
	CompileTemplate(ctx context.Context, userDefinedID string, inputs map[string]string) (*prompt.CompiledTemplate, error)
}

// AuditLogger records user actions. *audit.Service implements it.
type AuditLogger interface {
	Log(ctx context.Context, entry audit.LogEntry) error
}

type PromptHandler struct {
	svc   PromptService
	audit AuditLogger
}

func NewPromptHandler(svc PromptService, auditLog AuditLogger) *PromptHandler {
	return &PromptHandler{svc: svc, audit: auditLog}
}

func (h *PromptHandler) record(r *http.Request, action, resourceType string, id uuid.UUID, details map[string]interface{}) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), audit.LogEntry{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &id,
		Details:      details,
		IPAddress:    clientIP(r),
	}); err != nil {
		loggerFrom(r).Warn("audit log", "action", action, "error", err)
	}
}

func urlUUID(r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	return id, err == nil
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req prompt.CreatePromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	req.UserDefinedID = prompt.KebabCase(req.UserDefinedID)
	if req.UserDefinedID == "" {
		writeError(w, http.StatusBadRequest, "userDefinedId required")
		return
	}

	p, v, err := h.svc.CreatePrompt(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptCreate, "prompt", p.ID, map[string]interface{}{"user_defined_id": p.UserDefinedID})

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":                p.ID,
		"prompt_version_id": v.ID,
		"prompt":            p,
		"version":           v,
	})
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}

	prompts, err := h.svc.ListPrompts(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": prompts, "count": len(prompts)})
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "promptId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	p, err := h.svc.GetPrompt(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *PromptHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "promptId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	versions, err := h.svc.ListVersions(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions, "count": len(versions)})
}

func (h *PromptHandler) CreateSubversion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := urlUUID(r, "promptVersionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt version ID")
		return
	}

	var req prompt.SubversionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.NewHeliconeTemplate) == 0 {
		writeError(w, http.StatusBadRequest, "newHeliconeTemplate required")
		return
	}

	v, err := h.svc.CreateSubversion(r.Context(), versionID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptVersion, "prompt_version", v.ID, map[string]interface{}{
		"major_version": v.MajorVersion,
		"minor_version": v.MinorVersion,
	})

	writeJSON(w, http.StatusCreated, v)
}

type promoteRequest struct {
	PreviousProductionVersionID uuid.UUID `json:"previousProductionVersionId"`
}

func (h *PromptHandler) Promote(w http.ResponseWriter, r *http.Request) {
	versionID, ok := urlUUID(r, "promptVersionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt version ID")
		return
	}

	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.PreviousProductionVersionID == uuid.Nil {
		req.PreviousProductionVersionID = versionID
	}

	v, err := h.svc.Promote(r.Context(), versionID, req.PreviousProductionVersionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptPromote, "prompt_version", v.ID, map[string]interface{}{
		"previous_production_version_id": req.PreviousProductionVersionID,
	})

	writeJSON(w, http.StatusOK, v)
}

type renameRequest struct {
	UserDefinedID string `json:"userDefinedId"`
}

func (h *PromptHandler) SetUserDefinedID(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "promptId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt ID")
		return
	}

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	newID := prompt.KebabCase(req.UserDefinedID)
	if newID == "" {
		writeError(w, http.StatusBadRequest, "userDefinedId required")
		return
	}

	if err := h.svc.SetUserDefinedID(r.Context(), id, newID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptRename, "prompt", id, map[string]interface{}{"user_defined_id": newID})

	writeJSON(w, http.StatusOK, map[string]string{"userDefinedId": newID})
}

type compileRequest struct {
	Inputs map[string]string `json:"inputs"`
}

// CompileTemplate fills the production version of a prompt, addressed by
// its user-defined id, with the given inputs.
func (h *PromptHandler) CompileTemplate(w http.ResponseWriter, r *http.Request) {
	userDefinedID := strings.TrimSpace(chi.URLParam(r, "promptId"))

	var req compileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	compiled, err := h.svc.CompileTemplate(r.Context(), userDefinedID, req.Inputs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, compiled)
}
