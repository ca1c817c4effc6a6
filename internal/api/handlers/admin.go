package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/jawn/internal/audit"
	"github.com/nikhilbhutani/jawn/internal/models"
)

// AuditReader serves the admin endpoints. *audit.Service implements it.
type AuditReader interface {
	GetAuditLogs(ctx context.Context, q audit.AuditQuery) ([]models.AuditLog, error)
	GetUsageSummary(ctx context.Context, startDate, endDate *time.Time) ([]audit.UsageSummary, error)
}

type AdminHandler struct {
	audit AuditReader
}

func NewAdminHandler(reader AuditReader) *AdminHandler {
	return &AdminHandler{audit: reader}
}

func queryTime(r *http.Request, key string) *time.Time {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	summary, err := h.audit.GetUsageSummary(r.Context(), queryTime(r, "start_date"), queryTime(r, "end_date"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": summary})
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.AuditQuery{
		Action:    r.URL.Query().Get("action"),
		StartDate: queryTime(r, "start_date"),
		EndDate:   queryTime(r, "end_date"),
	}

	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if q.Limit <= 0 {
		q.Limit = 50
	}

	logs, err := h.audit.GetAuditLogs(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"audit_logs": logs, "count": len(logs)})
}
