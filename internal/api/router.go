package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/webble-core/internal/shim"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(methodNotAllowedHandler)

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Browser shim: the client script and a diagnostic page.
	r.Handle("/shim/*", http.StripPrefix("/shim", shim.Handler(s.cfg.ShimDir)))
	r.Handle("/shim", http.RedirectHandler("/shim/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Post("/pages", s.handleCreatePage)

		// Page transport; the token is validated in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}

	return r
}
