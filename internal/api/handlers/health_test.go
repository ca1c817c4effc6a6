package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthcheck(t *testing.T) {
	h := NewHealthHandler(nil)
	w := do(t, http.HandlerFunc(h.Healthcheck), http.MethodGet, "/healthcheck", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy :)"}`, w.Body.String())
}

func TestReadyz(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	w := do(t, http.HandlerFunc(NewHealthHandler(map[string]Pinger{"database": ok, "redis": ok}).Readyz), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","redis":"ok"}}`, w.Body.String())

	w = do(t, http.HandlerFunc(NewHealthHandler(map[string]Pinger{"database": ok, "redis": down}).Readyz), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy: connection refused", decodeBody(t, w)["checks"].(map[string]interface{})["redis"])
}
