package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-audio-core/internal/command"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/system", s.handleSystem)

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.handleListZones)
			r.Route("/{index}", func(r chi.Router) {
				r.Get("/", s.handleGetZone)
				r.Post("/commands/{operation}", s.handleZoneCommand)

				// Named aliases over the command pipeline
				r.Put("/volume", s.zoneOp(command.OpSetVolume))
				r.Put("/mute", s.zoneOp(command.OpSetMute))
				r.Put("/playing", s.zoneOp(command.OpSetPlaying))
				r.Put("/repeat", s.zoneOp(command.OpSetPlaylistRepeat))
				r.Put("/shuffle", s.zoneOp(command.OpSetPlaylistShuffle))
				r.Post("/clients/{client}", s.handleAssignClient)
				r.Post("/sync", s.handleZoneSync)
			})
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", s.handleListClients)
			r.Route("/{index}", func(r chi.Router) {
				r.Get("/", s.handleGetClient)
				r.Post("/commands/{operation}", s.handleClientCommand)

				r.Put("/volume", s.clientOp(command.OpSetVolume))
				r.Put("/mute", s.clientOp(command.OpSetMute))
				r.Put("/latency", s.clientOp(command.OpSetLatency))
			})
		})

		r.Route("/grouping", func(r chi.Router) {
			r.Get("/validate", s.handleGroupingValidate)
			r.Post("/reconcile", s.handleGroupingReconcile)
			r.Get("/status", s.handleGroupingStatus)
		})

		wsPath := s.wsCfg.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus summarizes grouping health for dashboards. Health is
// recomputed from a fresh cohesion check on every request; it is either
// healthy or degraded, never a stored counter.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "grouping reconciler not configured")
		return
	}

	validation, err := s.reconciler.Validate(r.Context())
	if err != nil {
		writeUnavailable(w, "audio server snapshot unavailable")
		return
	}

	health := "healthy"
	if !validation.Healthy() {
		health = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"overall_health": health,
		"total_clients":  s.store.ClientCount(),
	})
}

// handleSystem returns topology counts and uptime for dashboards.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"zones":          s.store.ZoneCount(),
		"clients":        s.store.ClientCount(),
	}
	if s.reconciler != nil {
		body["reconcile"] = s.reconciler.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
