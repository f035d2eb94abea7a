package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// socketAlias is a second mount point for the relay socket, for clients
// that connect on the path of the previous deployment.
const socketAlias = "/socket"

// healthCheckTimeout bounds each component probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Relay socket
	r.Get(s.wsCfg.Path, s.handleWebSocket)
	if s.wsCfg.Path != socketAlias {
		r.Get(socketAlias, s.handleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})

		r.Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// healthChecker is satisfied by every optional infrastructure client.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// handleHealth returns the server health status with a line per component.
// The relay itself is always up while it answers; a failing optional
// component marks the status degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	check := func(name string, enabled bool, hc healthChecker) {
		if !enabled {
			components[name] = "disabled"
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = "error: " + err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}

	check("database", s.db != nil, s.db)
	check("mqtt", s.mqtt != nil, s.mqtt)
	check("influxdb", s.influx != nil, s.influx)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
