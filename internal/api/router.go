package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthHandlers is the health endpoint set wired into the router.
type HealthHandlers interface {
	HealthHandler(w http.ResponseWriter, r *http.Request)
	LivenessHandler(w http.ResponseWriter, r *http.Request)
	ReadinessHandler(w http.ResponseWriter, r *http.Request)
}

// NewRouter assembles the full route tree. Ingest and catalog mutations
// go through the secured middleware; views and health are public reads.
func NewRouter(h *Handlers, mw *Middleware, hub *Hub, health HealthHandlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Write surface
		r.Group(func(r chi.Router) {
			r.Use(mw.Secure)
			r.Post("/telemetry", h.HandleIngest)
			r.Post("/devices", h.HandleCreateDevice)
			r.Delete("/devices/{id}", h.HandleDeleteDevice)
			r.Put("/devices/{id}/ports/{portKey}", h.HandleUpdatePort)
		})

		// Read surface
		r.Group(func(r chi.Router) {
			r.Use(mw.ReadOnly)
			r.Get("/devices", h.HandleListDevices)
			r.Get("/devices/{id}", h.HandleGetDevice)
			r.Get("/devices/{id}/snapshot", h.HandleSnapshot)
			r.Get("/devices/{id}/table", h.HandleTable)
			r.Get("/devices/{id}/series", h.HandleSeries)
			r.Get("/devices/{id}/status", h.HandleStatus)
			r.Get("/devices/{id}/export", h.HandleExport)
		})
	})

	if hub != nil {
		r.Get("/ws/live", hub.ServeWS)
	}

	if health != nil {
		r.Get("/health", health.HealthHandler)
		r.Get("/health/live", health.LivenessHandler)
		r.Get("/health/ready", health.ReadinessHandler)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}
