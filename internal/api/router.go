package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/irrigation-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/readings", func(r chi.Router) {
			r.Get("/", s.handleListReadings)
			r.Get("/latest", s.handleLatestReading)
			r.Get("/stats", s.handleReadingStats)
			r.Get("/chart", s.handleReadingChart)
			r.With(s.authMiddleware, s.requirePermission(auth.PermReadingsWrite)).
				Post("/", s.handleCreateReading)
		})

		r.Get("/relay/events", s.handleListRelayEvents)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requirePermission(auth.PermAlertsManage))
				r.Put("/read", s.handleMarkAllAlertsRead)
				r.Put("/{id}/read", s.handleMarkAlertRead)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleListSettings)
			r.Get("/device", s.handleDeviceConfig)
			r.Get("/{name}", s.handleGetSetting)
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requirePermission(auth.PermSettingsManage))
				r.Put("/{name}", s.handleUpdateSetting)
				r.Post("/reset", s.handleResetSettings)
			})
		})

		r.Get("/audit", s.handleListAuditLogs)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.handleSystemStatus)
			r.Get("/mqtt", s.handleMQTTStatus)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth answers liveness probes. It fails with 503 when the
// database does not respond; the broker is reported by /system/status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeUnavailable(w, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
