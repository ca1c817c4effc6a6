package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/jawn/internal/llm"
	"github.com/nikhilbhutani/jawn/internal/models"
	"github.com/nikhilbhutani/jawn/internal/queue"
	"github.com/nikhilbhutani/jawn/pkg/tokenizer"
)

// UsageRecorder persists usage logs. *audit.Service implements it.
type UsageRecorder interface {
	LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error
}

type UsageWorker struct {
	recorder UsageRecorder
}

func NewUsageWorker(recorder UsageRecorder) *UsageWorker {
	return &UsageWorker{recorder: recorder}
}

func (w *UsageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.UsageRecordPayload
	if err := queue.DecodePayload(t, &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	org, err := uuid.Parse(payload.Organization)
	if err != nil {
		return fmt.Errorf("parse organization: %v: %w", err, asynq.SkipRetry)
	}

	record, err := usageRecord(org, payload)
	if err != nil {
		return fmt.Errorf("build usage record: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.recorder.LogLLMUsage(ctx, record); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	slog.Info("recorded usage",
		"organization", org,
		"provider", record.Provider,
		"model", record.Model,
		"total_tokens", record.TotalTokens,
		"cost_usd", record.CostUSD,
	)
	return nil
}

func usageRecord(org uuid.UUID, p queue.UsageRecordPayload) (models.LLMUsageLog, error) {
	input, output := p.InputTokens, p.OutputTokens
	estimated := false
	if input == 0 && len(p.Prompt) > 0 {
		input = tokenizer.CountMessages(p.Model, p.Prompt...)
		estimated = true
	}
	if output == 0 && p.Response != "" {
		output = tokenizer.CountTokensForModel(p.Response, p.Model)
		estimated = true
	}

	var versionID *uuid.UUID
	if p.PromptVersionID != "" {
		id, err := uuid.Parse(p.PromptVersionID)
		if err != nil {
			return models.LLMUsageLog{}, fmt.Errorf("parse prompt version ID: %w", err)
		}
		versionID = &id
	}

	metadata, err := json.Marshal(map[string]any{
		"prompt_id":        p.PromptID,
		"status":           p.Status,
		"tokens_estimated": estimated,
	})
	if err != nil {
		return models.LLMUsageLog{}, err
	}

	return models.LLMUsageLog{
		Organization:    org,
		PromptVersionID: versionID,
		Provider:        p.Provider,
		Model:           p.Model,
		InputTokens:     input,
		OutputTokens:    output,
		TotalTokens:     input + output,
		CostUSD:         llm.CalculateCost(p.Model, input, output),
		LatencyMs:       p.LatencyMs,
		Endpoint:        p.Endpoint,
		Metadata:        metadata,
	}, nil
}
