package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storegrid/engine/internal/api/handlers"
	mw "github.com/storegrid/engine/internal/api/middleware"
)

type Dependencies struct {
	TenantsHandler *handlers.TenantsHandler
	StagingHandler *handlers.StagingHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/tenants", func(tr chi.Router) {
			tr.Get("/", dep.TenantsHandler.List)
			tr.Post("/", dep.TenantsHandler.Create)
			tr.Get("/{id}", dep.TenantsHandler.Get)
			tr.Post("/{id}/suspend", dep.TenantsHandler.Suspend)
			tr.Post("/{id}/reactivate", dep.TenantsHandler.Reactivate)
			tr.Post("/{id}/terminate", dep.TenantsHandler.Terminate)
			tr.Post("/{id}/retry", dep.TenantsHandler.Retry)
			tr.Put("/{id}/subscription", dep.TenantsHandler.UpdateSubscription)
			tr.Get("/{id}/jobs", dep.TenantsHandler.ListJobs)

			tr.Get("/{id}/staging", dep.StagingHandler.ListForTenant)
			tr.Post("/{id}/staging", dep.StagingHandler.Create)
		})

		api.Route("/staging", func(sr chi.Router) {
			sr.Get("/{id}", dep.StagingHandler.Get)
			sr.Post("/{id}/push", dep.StagingHandler.Push)
			sr.Delete("/{id}", dep.StagingHandler.Delete)
		})
	})

	return r
}
