package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/rockwatch/internal/hub"
)

// Observers is the orchestrator's live-connection surface.
type Observers interface {
	ConnectObserver(ctx context.Context, conn hub.Conn, userAgent string) string
	DisconnectObserver(id string)
	HandleClientMessage(ctx context.Context, id string, msg hub.ClientMessage)
}

// Updates upgrades GET /ws/updates and pumps client frames until the peer
// goes away. An empty allowedOrigins accepts any origin.
func Updates(obs Observers, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		conn := hub.NewWebsocketConn(ws)
		id := obs.ConnectObserver(ctx, conn, r.UserAgent())
		defer obs.DisconnectObserver(id)

		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				if !isExpectedClose(err) {
					slog.Debug("websocket read ended", "connection_id", id, "error", err)
				}
				return
			}
			obs.HandleClientMessage(ctx, id, msg)
		}
	}
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}
