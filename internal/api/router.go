package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhutani/jawn/internal/api/handlers"
	"github.com/nikhilbhutani/jawn/internal/api/middleware"
	"github.com/nikhilbhutani/jawn/internal/llm"
)

// Router holds everything the HTTP surface depends on. Audit, RateLimiter
// and the readiness checks are optional.
type Router struct {
	Origins      []*regexp.Regexp
	MaxBodyBytes int64
	RouteTimeout time.Duration

	Authenticators []func(http.Handler) http.Handler
	RateLimiter    *middleware.RateLimiter
	Checks         map[string]handlers.Pinger

	Prompts  handlers.PromptService
	Sessions handlers.SessionRegistry
	Audit    interface {
		handlers.AuditLogger
		handlers.AuditReader
	}
	Gateway llm.Gateway
}

func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.Origins))
	if rt.MaxBodyBytes > 0 {
		r.Use(chimiddleware.RequestSize(rt.MaxBodyBytes))
	}

	health := handlers.NewHealthHandler(rt.Checks)
	r.Get("/healthcheck", health.Healthcheck)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	var auditLog handlers.AuditLogger
	if rt.Audit != nil {
		auditLog = rt.Audit
	}
	promptH := handlers.NewPromptHandler(rt.Prompts, auditLog)
	sessionH := handlers.NewSessionHandler(rt.Sessions, auditLog)
	llmH := handlers.NewLLMHandler(rt.Gateway)

	r.Route("/v1", func(r chi.Router) {
		for _, authenticate := range rt.Authenticators {
			r.Use(authenticate)
		}
		if rt.RateLimiter != nil {
			r.Use(rt.RateLimiter.Limit)
		}

		// Streaming routes are registered without the route timeout.
		r.Route("/prompt", func(r chi.Router) {
			r = r.With(rt.timeout()...)
			r.Post("/", promptH.Create)
			r.Get("/", promptH.List)
			r.Post("/version/{promptVersionId}/subversion", promptH.CreateSubversion)
			r.Post("/version/{promptVersionId}/promote", promptH.Promote)
			r.Get("/{promptId}", promptH.Get)
			r.Get("/{promptId}/versions", promptH.Versions)
			r.Patch("/{promptId}/user-defined-id", promptH.SetUserDefinedID)
			// {promptId} holds the user-defined id here.
			r.Post("/{promptId}/template", promptH.CompileTemplate)
		})

		r.Route("/llm", func(r chi.Router) {
			r.Post("/chat/stream", llmH.ChatStream)
			r.With(rt.timeout()...).Post("/chat", llmH.Chat)
			r.With(rt.timeout()...).Get("/models", llmH.Models)
		})

		r.Route("/prompt-sessions", func(r chi.Router) {
			r.With(rt.timeout()...).Post("/", sessionH.Create)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/stream", sessionH.Stream)

				r.Group(func(r chi.Router) {
					r.Use(rt.timeout()...)
					r.Get("/", sessionH.Get)
					r.Delete("/", sessionH.Delete)
					r.Patch("/messages/{index}", sessionH.EditMessage)
					r.Delete("/messages/{index}", sessionH.RemoveMessage)
					r.Post("/messages/pair", sessionH.AddMessagePair)
					r.Post("/messages/prefill", sessionH.AddPrefill)
					r.Put("/variables", sessionH.UpsertVariable)
					r.Patch("/variables/{index}", sessionH.EditVariable)
					r.Patch("/parameters", sessionH.SetParameters)
					r.Post("/versions/{promptVersionId}/load", sessionH.LoadVersion)
					r.Post("/versions/{promptVersionId}/promote", sessionH.Promote)
					r.Patch("/user-defined-id", sessionH.RenameID)
					r.Post("/run", sessionH.Run)
					r.Post("/cancel", sessionH.Cancel)
					r.Get("/response", sessionH.Response)
					r.Get("/notifications", sessionH.Notifications)
				})
			})
		})

		if rt.Audit != nil {
			adminH := handlers.NewAdminHandler(rt.Audit)
			r.Route("/admin", func(r chi.Router) {
				r.Use(rt.timeout()...)
				r.Get("/usage", adminH.Usage)
				r.Get("/audit", adminH.AuditLogs)
			})
		}
	})

	return r
}

func (rt *Router) timeout() []func(http.Handler) http.Handler {
	if rt.RouteTimeout <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.Timeout(rt.RouteTimeout)}
}
