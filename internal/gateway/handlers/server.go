package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP surface is built from
type Deps struct {
	Chat       *ChatHandler
	Routing    *RoutingHandler
	Usage      *UsageHandler
	Middleware *Middleware
	Database   Pinger

	// RequestTimeout bounds each request. Zero means 60s.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router for the gateway
func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(d.Middleware.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Database != nil {
			if err := d.Database.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(d.Middleware.UserMiddleware)
		r.Use(d.Middleware.RateLimitMiddleware)

		r.Post("/route", d.Chat.HandleRoute)

		r.Route("/routing", func(r chi.Router) {
			r.Get("/settings", d.Routing.HandleGetSettings)
			r.Put("/settings", d.Routing.HandleUpdateSettings)
			r.Get("/defaults", d.Routing.HandleDefaults)
			r.Post("/reset", d.Routing.HandleReset)
			r.Post("/test", d.Routing.HandleTest)
			r.Get("/schema", d.Routing.HandleSchema)

			r.Get("/chains", d.Routing.HandleListChains)
			r.Post("/chains", d.Routing.HandleCreateChain)
			r.Get("/chains/{name}", d.Routing.HandleGetChain)
			r.Put("/chains/{name}", d.Routing.HandleUpdateChain)
			r.Delete("/chains/{name}", d.Routing.HandleDeleteChain)
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/summary", d.Usage.HandleSummary)
			r.Get("/history", d.Usage.HandleHistory)
			r.Get("/cost", d.Usage.HandleCost)
			r.Get("/daily-costs", d.Usage.HandleDailyCosts)
			r.Get("/task-breakdown", d.Usage.HandleTaskBreakdown)
		})
	})

	return r
}
