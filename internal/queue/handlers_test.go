package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersRegistry_Routes(t *testing.T) {
	r := NewHandlersRegistry()
	var got UsageRecordPayload
	r.Register(TypeUsageRecord, asynq.HandlerFunc(func(_ context.Context, t *asynq.Task) error {
		return DecodePayload(t, &got)
	}))

	task, err := NewUsageRecordTask(UsageRecordPayload{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	require.NoError(t, r.Mux().ProcessTask(context.Background(), task))
	assert.Equal(t, "gpt-4o", got.Model)

	err = r.Mux().ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil))
	assert.Error(t, err)
}

func TestHandlersRegistry_PropagatesErrors(t *testing.T) {
	r := NewHandlersRegistry()
	boom := errors.New("boom")
	r.Register(TypeUsageRecord, asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	err := r.Mux().ProcessTask(context.Background(), asynq.NewTask(TypeUsageRecord, nil))
	assert.ErrorIs(t, err, boom)
}
