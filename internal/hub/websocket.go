package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

// MaxClientMessageBytes caps inbound frames from observers.
const MaxClientMessageBytes = 64 << 10

// WebsocketConn adapts a gorilla websocket connection to Conn.
type WebsocketConn struct {
	ws *websocket.Conn
}

func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	ws.SetReadLimit(MaxClientMessageBytes)
	return &WebsocketConn{ws: ws}
}

// Send writes event as a JSON text frame, bounded by ctx's deadline.
func (w *WebsocketConn) Send(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.ws.WriteJSON(event)
}

// Close sends a normal closure frame and closes the socket.
func (w *WebsocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.ws.Close()
}

// ReadMessage blocks for the next client frame.
func (w *WebsocketConn) ReadMessage() (ClientMessage, error) {
	_, data, err := w.ws.ReadMessage()
	if err != nil {
		return ClientMessage{}, err
	}
	return ParseClientMessage(data), nil
}

// Client frame types.
const (
	ClientJoin  = "join"
	ClientLeave = "leave"
)

// ClientMessage is a frame sent by an observer. Frames that are not valid
// JSON keep their raw text and an empty Type.
type ClientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
	Raw  string `json:"-"`
}

func ParseClientMessage(data []byte) ClientMessage {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		msg = ClientMessage{}
	}
	msg.Raw = string(data)
	return msg
}

var _ Conn = (*WebsocketConn)(nil)
