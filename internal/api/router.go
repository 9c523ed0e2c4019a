package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/arcs-relay/internal/middleware"
)

// NewRouter assembles the management surface. The WebSocket relay and
// the metrics handler are passed in so the whole server binds one port.
func NewRouter(h *Handler, wsPath string, ws http.HandlerFunc, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Relay endpoint stays outside the request logger; its response
	// writer wrapper would break the hijack that the upgrade needs.
	if ws != nil {
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestLogger)

		r.Get("/health", h.GetHealth)

		r.Route("/api", func(r chi.Router) {
			r.Post("/devices/register", h.RegisterDevice)
			r.Post("/devices/{id}/deactivate", h.DeactivateDevice)
			r.Get("/sessions", h.ListSessions)
			r.Get("/sessions/{id}/stats", h.GetSessionStats)
			r.Get("/stats", h.GetStats)
		})

		if metricsHandler != nil {
			r.Handle("/metrics", metricsHandler)
		}
	})

	return r
}
