package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/middleware"
	"github.com/Strob0t/scmrelay/internal/signature"
)

// RouteConfig carries the settings routes need beyond the handlers.
type RouteConfig struct {
	EventPath string // upstream event callback path, "/events" by default
	// RequestTimeout bounds every API route except bulk registration and
	// the event stream. 0 disables it.
	RequestTimeout time.Duration
	EventSecret    func() string
	HubSecret      func() string
	Metrics        *cfotel.Metrics
	// Stream serves the live event WebSocket feed; nil disables it.
	Stream http.HandlerFunc
}

// MountRoutes registers health probes and the API on r. The API is served
// both at the root and under /api/v1.
func MountRoutes(r chi.Router, h *Handlers, health *Health, cfg RouteConfig) {
	if cfg.EventPath == "" {
		cfg.EventPath = "/events"
	}

	r.NotFound(NotFound)

	r.Get("/health", health.Basic)
	r.Get("/health/detailed", health.Detailed)
	r.Get("/healthz", health.Probe)
	r.Get("/healthz/readiness", health.Readiness)
	r.Get("/healthz/liveness", health.Liveness)

	api := func(r chi.Router) {
		// Bulk registration runs under its own deadline and the stream is
		// long-lived, so neither gets the request timeout.
		r.Post("/organizations/{organizationId}/repositories/register", h.RegisterOrganization)
		if cfg.Stream != nil {
			r.Get("/events/stream", cfg.Stream)
		}

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(cfg.RequestTimeout))
			}

			r.With(
				middleware.RequireHeader(headerEventType, "Event type is required"),
				middleware.Signature(middleware.SignatureOptions{
					Secret:  cfg.EventSecret,
					Header:  headerEventSignature,
					Scheme:  signature.SchemePrefixed,
					Message: "Invalid event signature",
					Metrics: cfg.Metrics,
				}),
			).Post(cfg.EventPath, h.HandleEvent)

			r.With(
				middleware.Signature(middleware.SignatureOptions{
					Secret:  cfg.HubSecret,
					Header:  headerHubSignature,
					Scheme:  signature.SchemeBare,
					Message: "Invalid webhook signature",
					Metrics: cfg.Metrics,
				}),
			).Post("/webhook", h.HandleSCMWebhook)

			// Single-repository webhooks
			r.Post("/repositories/{repositoryId}/webhooks", h.RegisterWebhook)
			r.Get("/repositories/{repositoryId}/webhooks", h.ListWebhooks)
			r.Delete("/repositories/{repositoryId}/webhooks/{webhookId}", h.DeleteWebhook)

			// Event subscriptions
			r.Post("/repositories/{repositoryId}/subscriptions", h.CreateSubscription)
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Patch("/subscriptions/{subscriptionId}", h.UpdateSubscription)
			r.Delete("/subscriptions/{subscriptionId}", h.DeleteSubscription)

			// Repository views
			r.Get("/repositories/{repositoryId}/branches", h.ListBranches)
			r.Get("/repositories/{repositoryId}/events", h.ListRepositoryEvents)
		})
	}

	r.Group(api)
	r.Route("/api/v1", api)
}
