package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jawn_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jawn_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jawn_prompt_sessions_active",
		Help: "Number of open prompt editing sessions",
	})

	PromptRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jawn_prompt_runs_total",
		Help: "Total prompt runs by outcome",
	}, []string{"provider", "model", "status"})

	PromptRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jawn_prompt_run_duration_seconds",
		Help:    "Prompt run duration including save",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "model"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jawn_llm_requests_total",
		Help: "Total LLM gateway requests",
	}, []string{"provider", "status"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jawn_llm_tokens_total",
		Help: "Tokens consumed by direction",
	}, []string{"provider", "direction"})

	TemplateCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jawn_template_cache_total",
		Help: "Compiled template cache lookups",
	}, []string{"result"})
)

// RunStatus labels a finished run.
func RunStatus(cancelled bool, err error) string {
	switch {
	case cancelled:
		return "cancelled"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}
