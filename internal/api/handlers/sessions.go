package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/audit"
	"github.com/nikhilbhutani/jawn/internal/prompt"
	"github.com/nikhilbhutani/jawn/internal/render"
	"github.com/nikhilbhutani/jawn/internal/session"
)

// SessionRegistry owns open editing sessions. *session.Manager implements it.
type SessionRegistry interface {
	Create(ctx context.Context, promptID uuid.UUID) (*session.Entry, error)
	Get(ctx context.Context, id string) (*session.Entry, error)
	Delete(ctx context.Context, id string) error
}

type SessionHandler struct {
	sessions SessionRegistry
	audit    AuditLogger
}

func NewSessionHandler(sessions SessionRegistry, auditLog AuditLogger) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: auditLog}
}

type sessionResponse struct {
	ID      string          `json:"id"`
	Session prompt.Snapshot `json:"session"`
	Changed *bool           `json:"changed,omitempty"`
}

func (h *SessionHandler) entry(w http.ResponseWriter, r *http.Request) (*session.Entry, bool) {
	e, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return e, true
}

func (h *SessionHandler) record(r *http.Request, action string, id uuid.UUID, details map[string]interface{}) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), audit.LogEntry{
		Action:       action,
		ResourceType: "prompt",
		ResourceID:   &id,
		Details:      details,
		IPAddress:    clientIP(r),
	}); err != nil {
		loggerFrom(r).Warn("audit log", "action", action, "error", err)
	}
}

type createSessionRequest struct {
	PromptID uuid.UUID `json:"promptId"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.PromptID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "promptId required")
		return
	}

	e, err := h.sessions.Create(r.Context(), req.PromptID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptSessionStart, req.PromptID, map[string]interface{}{"session_id": e.ID})

	writeJSON(w, http.StatusCreated, sessionResponse{ID: e.ID, Session: e.Session.Snapshot()})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: e.ID, Session: e.Session.Snapshot()})
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutate applies the mutator built from the request and answers with the
// resulting snapshot.
func (h *SessionHandler) mutate(w http.ResponseWriter, r *http.Request, build func() (prompt.Mutator, bool)) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	m, ok := build()
	if !ok {
		return
	}
	changed := e.Session.Mutate(m)
	writeJSON(w, http.StatusOK, sessionResponse{ID: e.ID, Session: e.Session.Snapshot(), Changed: &changed})
}

func urlIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		writeError(w, http.StatusBadRequest, "invalid index")
		return 0, false
	}
	return i, true
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h *SessionHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		i, ok := urlIndex(w, r)
		if !ok {
			return nil, false
		}
		var req contentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return nil, false
		}
		return prompt.EditMessage(i, req.Content), true
	})
}

func (h *SessionHandler) RemoveMessage(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		i, ok := urlIndex(w, r)
		if !ok {
			return nil, false
		}
		return prompt.RemoveMessage(i), true
	})
}

func (h *SessionHandler) AddMessagePair(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		return prompt.AddMessagePair(), true
	})
}

func (h *SessionHandler) AddPrefill(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		return prompt.AddPrefill(), true
	})
}

type variableRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h *SessionHandler) UpsertVariable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		var req variableRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return nil, false
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name required")
			return nil, false
		}
		return prompt.UpsertVariable(prompt.Variable{Name: req.Name, Value: req.Value}), true
	})
}

func (h *SessionHandler) EditVariable(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		i, ok := urlIndex(w, r)
		if !ok {
			return nil, false
		}
		var req variableRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return nil, false
		}
		return prompt.EditVariable(i, req.Value), true
	})
}

func (h *SessionHandler) SetParameters(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func() (prompt.Mutator, bool) {
		var req prompt.ParameterUpdate
		if err := decodeJSON(r, &req); err != nil {
			writeDecodeError(w, err)
			return nil, false
		}
		return prompt.SetParameters(req), true
	})
}

func (h *SessionHandler) LoadVersion(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	versionID, ok := urlUUID(r, "promptVersionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt version ID")
		return
	}

	if err := e.Session.LoadVersion(r.Context(), versionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: e.ID, Session: e.Session.Snapshot()})
}

func (h *SessionHandler) Promote(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	versionID, ok := urlUUID(r, "promptVersionId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt version ID")
		return
	}

	if err := e.Session.Promote(r.Context(), versionID); err != nil {
		writeServiceError(w, err)
		return
	}
	h.record(r, audit.ActionPromptPromote, e.Session.PromptID(), map[string]interface{}{
		"session_id":        e.ID,
		"prompt_version_id": versionID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{ID: e.ID, Session: e.Session.Snapshot()})
}

func (h *SessionHandler) RenameID(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := e.Session.RenameID(r.Context(), req.UserDefinedID); err != nil {
		writeServiceError(w, err)
		return
	}
	snap := e.Session.Snapshot()
	h.record(r, audit.ActionPromptRename, e.Session.PromptID(), map[string]interface{}{
		"session_id":      e.ID,
		"user_defined_id": snap.UserDefinedID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{ID: e.ID, Session: snap})
}

// Run toggles the session's run: it starts one when idle and cancels the
// active one otherwise.
func (h *SessionHandler) Run(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}

	run, cancelled := e.Session.Toggle(r.Context())
	switch {
	case run != nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	case cancelled:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		writeError(w, http.StatusConflict, "prompt cannot be run")
	}
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	e.Session.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// Stream sends run events as server-sent events until the client goes away
// or the session is closed.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, unsubscribe := e.Session.Subscribe()
	defer unsubscribe()

	startSSE(w)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, flusher, string(ev.Type), ev)
		}
	}
}

func (h *SessionHandler) Response(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	mode, err := render.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var content string
	if st := e.Session.Snapshot().State; st != nil {
		content = st.Response
	}
	res, err := render.Render(content, mode)
	if err != nil {
		if errors.Is(err, render.ErrUnknownMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	notes := e.Notifications.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes, "count": len(notes)})
}
