package orchestrator

import (
	"context"

	"github.com/kiranshivaraju/rockwatch/internal/hub"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
)

// ConnectObserver registers a live connection and greets it with the
// current system status.
func (o *Orchestrator) ConnectObserver(ctx context.Context, conn hub.Conn, userAgent string) string {
	id := o.hub.Connect(conn, userAgent)
	o.metrics.SetConnections(o.hub.ConnectionCount())
	_ = o.hub.SendTo(ctx, id, models.NewSystemStatus(o.SystemStatus(), o.now()))
	return id
}

// DisconnectObserver is idempotent.
func (o *Orchestrator) DisconnectObserver(id string) {
	o.hub.Disconnect(id)
	o.metrics.SetConnections(o.hub.ConnectionCount())
}

func (o *Orchestrator) JoinRoom(id, room string) error {
	return o.hub.Join(id, room)
}

func (o *Orchestrator) LeaveRoom(id, room string) {
	o.hub.Leave(id, room)
}

// HandleClientMessage applies one inbound observer frame. Join and leave
// frames change room membership; anything else is answered with a pong.
func (o *Orchestrator) HandleClientMessage(ctx context.Context, id string, msg hub.ClientMessage) {
	o.hub.Touch(id)
	switch msg.Type {
	case hub.ClientJoin:
		if err := o.hub.Join(id, msg.Room); err != nil {
			o.logger.Debug("join rejected", "connection_id", id, "room", msg.Room, "error", err)
		}
	case hub.ClientLeave:
		o.hub.Leave(id, msg.Room)
	default:
		_ = o.hub.SendTo(ctx, id, models.NewPong(o.now()))
	}
}

// RoomClients lists the connection ids subscribed to room.
func (o *Orchestrator) RoomClients(room string) []string {
	return o.hub.RoomClients(room)
}

func (o *Orchestrator) ConnectionInfo(id string) (hub.ConnectionInfo, bool) {
	return o.hub.ConnectionInfo(id)
}
