package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/pipeline"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/tracker"
)

// Deps are the collaborators the control surface exposes.
type Deps struct {
	Registry     *source.Registry
	Scheduler    *tracker.Scheduler
	Observations *observation.Service
	Alerts       alert.Repository
	Rules        *alert.Rules
	Pipeline     *pipeline.Pipeline
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(deps Deps) http.Handler {
	return newRouter(deps)
}

func newRouter(deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()

	// Middleware stack: recovery -> requestID -> logging
	r.Use(recovery, requestID, logging)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sources", h.listSources)

		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Post("/jobs/{id}/rearm", h.rearmJob)

		r.Route("/products/{id}", func(r chi.Router) {
			r.Post("/tracking", h.startTracking)
			r.Delete("/tracking", h.stopTracking)
			r.Put("/alert-rule", h.putAlertRule)
			r.Get("/observations", h.listObservations)
			r.Get("/alerts", h.listAlerts)
			r.Get("/insights", h.getInsights)
		})
	})

	return r
}
