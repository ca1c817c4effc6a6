package models

import (
	"encoding/json"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

type LLMUsageLog struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Organization    uuid.UUID       `json:"organization" db:"organization"`
	PromptVersionID *uuid.UUID      `json:"prompt_version_id,omitempty" db:"prompt_version_id"`
	Provider        string          `json:"provider" db:"provider"`
	Model           string          `json:"model" db:"model"`
	InputTokens     int             `json:"input_tokens" db:"input_tokens"`
	OutputTokens    int             `json:"output_tokens" db:"output_tokens"`
	TotalTokens     int             `json:"total_tokens" db:"total_tokens"`
	CostUSD         float64         `json:"cost_usd" db:"cost_usd"`
	LatencyMs       int             `json:"latency_ms" db:"latency_ms"`
	Endpoint        string          `json:"endpoint" db:"endpoint"`
	Metadata        json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Organization uuid.UUID       `json:"organization" db:"organization"`
	Action       string          `json:"action" db:"action"`
	ResourceType string          `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details" db:"details"`
	IPAddress    *netip.Addr     `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
