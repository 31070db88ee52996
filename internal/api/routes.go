package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-mailer/internal/auth"
	"github.com/ignite/campaign-mailer/internal/metrics"
)

// RouteDeps are the pieces SetupRoutes mounts. Health and Tracking may be nil.
type RouteDeps struct {
	Handlers       *Handlers
	Health         *HealthChecker
	Tracking       interface{ Mount(chi.Router) }
	Authorizer     *auth.Authorizer
	AllowedOrigins []string
}

// SetupRoutes configures all routes. Tracking and unsubscribe endpoints are
// public; everything under /api requires the admin bearer token.
func SetupRoutes(d RouteDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	r.Handle("/metrics", metrics.Handler())

	if d.Tracking != nil {
		d.Tracking.Mount(r)
	}

	h := d.Handlers
	r.Route("/api", func(r chi.Router) {
		if d.Authorizer != nil {
			r.Use(d.Authorizer.RequireAuth)
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.HandleListCampaigns)
			r.Post("/", h.HandleCreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetCampaign)
				r.Delete("/", h.HandleDeleteCampaign)
				r.Post("/send", h.HandleSendCampaign)
				r.Post("/pause", h.HandlePauseCampaign)
				r.Post("/resume", h.HandleResumeCampaign)
				r.Post("/cancel", h.HandleCancelCampaign)
				r.Post("/duplicate", h.HandleDuplicateCampaign)
				r.Get("/failures", h.HandleCampaignFailures)
			})
		})

		r.Post("/batches/{id}/process", h.HandleProcessBatch)
		r.Get("/quota", h.HandleQuota)
		r.Get("/settings", h.HandleGetSettings)
		r.Put("/settings", h.HandleSaveSettings)
		r.Post("/cron/process-due", h.HandleProcessDue)
	})

	return r
}
