package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/rockwatch/internal/api/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		db       handler.Pinger
		cache    handler.Pinger
		code     int
		database string
	}{
		{"all ok", stubPinger{}, stubPinger{}, http.StatusOK, "ok"},
		{"backends disabled", nil, nil, http.StatusOK, "disabled"},
		{"database down", stubPinger{err: errors.New("down")}, nil, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.Health(tt.db, tt.cache)(w, httptest.NewRequest("GET", "/api/v1/health", nil))

			require.Equal(t, tt.code, w.Code)
			body := decode(t, w)
			var services map[string]any
			if tt.code == http.StatusOK {
				services = body["data"].(map[string]any)["services"].(map[string]any)
			} else {
				services = body["error"].(map[string]any)["details"].(map[string]any)
			}
			assert.Equal(t, tt.database, services["database"])
		})
	}
}

type stubStatus map[string]any

func (s stubStatus) SystemStatus() map[string]any { return s }

func TestSystemStatus(t *testing.T) {
	w := httptest.NewRecorder()
	handler.SystemStatus(stubStatus{"active_connections": 2, "queue_depth": 1})(w, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["active_connections"])
}

type stubRooms map[string][]string

func (s stubRooms) RoomClients(room string) []string { return s[room] }

func TestRoomMembers(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/rooms/{room}", handler.RoomMembers(stubRooms{"site-7": {"c1", "c2"}}))

	w := do(t, r, "GET", "/api/v1/rooms/site-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, []any{"c1", "c2"}, data["clients"])
	assert.Equal(t, float64(2), data["count"])

	w = do(t, r, "GET", "/api/v1/rooms/empty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["data"].(map[string]any)["clients"])
}
