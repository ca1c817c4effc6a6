package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/jawn/internal/database"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/tenant"
)

const (
	ActionPromptCreate       = "prompt.create"
	ActionPromptVersion      = "prompt.version.create"
	ActionPromptPromote      = "prompt.version.promote"
	ActionPromptRename       = "prompt.rename"
	ActionPromptSessionStart = "prompt.session.start"
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
}

func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	var ip *netip.Addr
	if entry.IPAddress != "" {
		if parsed, err := netip.ParseAddr(entry.IPAddress); err == nil {
			ip = &parsed
		}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_logs (organization, user_id, action, resource_type, resource_id, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenant.OrganizationID(ctx), nullableUser(ctx), entry.Action, entry.ResourceType, entry.ResourceID, details, ip,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// LogLLMUsage stores a usage record. The record's organization is used when
// set, so background workers can log without a request context.
func (s *Service) LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error {
	org := record.Organization
	if org == uuid.Nil {
		org = tenant.OrganizationID(ctx)
	}

	metadata := record.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO llm_usage_logs (organization, prompt_version_id, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, endpoint, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		org, record.PromptVersionID, record.Provider, record.Model, record.InputTokens, record.OutputTokens,
		record.TotalTokens, record.CostUSD, record.LatencyMs, record.Endpoint, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert LLM usage log: %w", err)
	}
	return nil
}

type AuditQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Action    string
	Limit     int
	Offset    int
}

func (s *Service) GetAuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditLog, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, organization, action, COALESCE(resource_type, ''), resource_id, details, ip_address, created_at
			  FROM audit_logs WHERE organization = $1`
	args := []interface{}{tenant.OrganizationID(ctx)}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	query, args, argIdx = dateRange(query, args, argIdx, q.StartDate, q.EndDate)

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Organization, &l.Action, &l.ResourceType, &l.ResourceID, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type UsageSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

func (s *Service) GetUsageSummary(ctx context.Context, startDate, endDate *time.Time) ([]UsageSummary, error) {
	query := `SELECT provider, model, COUNT(*) as total_calls,
			         COALESCE(SUM(total_tokens), 0) as total_tokens,
			         COALESCE(SUM(cost_usd), 0) as total_cost_usd
			  FROM llm_usage_logs WHERE organization = $1`
	args := []interface{}{tenant.OrganizationID(ctx)}
	query, args, _ = dateRange(query, args, 2, startDate, endDate)
	query += " GROUP BY provider, model ORDER BY total_cost_usd DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	summaries := []UsageSummary{}
	for rows.Next() {
		var us UsageSummary
		if err := rows.Scan(&us.Provider, &us.Model, &us.TotalCalls, &us.TotalTokens, &us.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, us)
	}
	return summaries, rows.Err()
}

func dateRange(query string, args []interface{}, argIdx int, start, end *time.Time) (string, []interface{}, int) {
	if start != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *start)
		argIdx++
	}
	if end != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *end)
		argIdx++
	}
	return query, args, argIdx
}

func nullableUser(ctx context.Context) *string {
	if u := tenant.UserID(ctx); u != "" {
		return &u
	}
	return nil
}
