package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/rockwatch/internal/api/response"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health checks the optional database and cache. A nil Pinger reports
// "disabled".
func Health(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": probe(r.Context(), db),
			"cache":    probe(r.Context(), cache),
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}

// StatusReporter exposes the orchestrator's system snapshot.
type StatusReporter interface {
	SystemStatus() map[string]any
}

// SystemStatus handles GET /api/v1/system/status.
func SystemStatus(s StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, s.SystemStatus())
	}
}

// RoomLister lists the members of a notification room.
type RoomLister interface {
	RoomClients(room string) []string
}

// RoomMembers handles GET /api/v1/rooms/{room}.
func RoomMembers(rooms RoomLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		clients := rooms.RoomClients(room)
		if clients == nil {
			clients = []string{}
		}
		response.JSON(w, map[string]any{
			"room":    room,
			"clients": clients,
			"count":   len(clients),
		})
	}
}
