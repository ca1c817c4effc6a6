package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeUsageRecord = "usage:record"
)

// UsageRecordPayload describes one finished LLM call. Token counts of zero
// are estimated by the worker from Prompt and Response.
type UsageRecordPayload struct {
	Organization    string   `json:"organization"`
	PromptID        string   `json:"prompt_id,omitempty"`
	PromptVersionID string   `json:"prompt_version_id,omitempty"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	Prompt          []string `json:"prompt,omitempty"`
	Response        string   `json:"response,omitempty"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	LatencyMs       int      `json:"latency_ms"`
	Endpoint        string   `json:"endpoint"`
	Status          string   `json:"status"`
}

// DecodePayload unmarshals a task payload.
func DecodePayload(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	return nil
}
