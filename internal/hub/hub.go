// Package hub tracks live observer connections and their room memberships and
// fans notification events out to them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rockwatch/pkg/models"
	"golang.org/x/sync/errgroup"
)

var ErrNotConnected = errors.New("connection not registered")

// Conn is one observer transport. Send must honor ctx's deadline. The hub
// never calls Send concurrently on the same Conn.
type Conn interface {
	Send(ctx context.Context, event models.Event) error
	Close() error
}

// ConnectionInfo is a snapshot of one connection's metadata.
type ConnectionInfo struct {
	ID             string    `json:"connection_id"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Rooms          []string  `json:"rooms"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Delivery summarizes one fan-out.
type Delivery struct {
	Delivered int
	Failed    int
}

type client struct {
	id          string
	conn        Conn
	userAgent   string
	connectedAt time.Time

	// lastActivity is unix nanoseconds.
	lastActivity atomic.Int64

	// sendMu serializes writes to conn.
	sendMu sync.Mutex

	// rooms is guarded by Hub.mu.
	rooms map[string]struct{}
}

func (c *client) touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	SendTimeout time.Duration
	// MaxFanout bounds concurrent sends within one broadcast.
	MaxFanout int
	Logger    *slog.Logger
}

// Hub is safe for concurrent use. mu guards the connection and room tables;
// sends run outside it so a slow peer never holds up structural changes.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client

	sendTimeout time.Duration
	maxFanout   int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an empty Hub.
func New(opts Options) *Hub {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.MaxFanout <= 0 {
		opts.MaxFanout = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		clients:     make(map[string]*client),
		rooms:       make(map[string]map[string]*client),
		sendTimeout: opts.SendTimeout,
		maxFanout:   opts.MaxFanout,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// Connect registers conn and returns its assigned connection id.
func (h *Hub) Connect(conn Conn, userAgent string) string {
	now := h.now().UTC()
	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		userAgent:   userAgent,
		connectedAt: now,
		rooms:       make(map[string]struct{}),
	}
	c.touch(now)

	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("observer connected", "connection_id", c.id, "connections", total)
	return c.id
}

// Disconnect removes the connection from the hub and every room, then closes
// its transport. Unknown ids are ignored.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		h.removeLocked(c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if err := c.conn.Close(); err != nil {
		h.logger.Debug("close connection", "connection_id", id, "error", err)
	}
	h.logger.Info("observer disconnected", "connection_id", id, "connections", total)
}

func (h *Hub) removeLocked(c *client) {
	delete(h.clients, c.id)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
}

func (h *Hub) leaveLocked(c *client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Touch records inbound activity on the connection.
func (h *Hub) Touch(id string) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if ok {
		c.touch(h.now())
	}
}

// Join adds the connection to room, creating the room on first join.
func (h *Hub) Join(id, room string) error {
	if room == "" {
		return fmt.Errorf("room name is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	c.rooms[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*client)
		h.rooms[room] = members
	}
	members[id] = c
	return nil
}

// Leave removes the connection from room. Leaving a room the connection is
// not in is a no-op. The room disappears with its last member.
func (h *Hub) Leave(id, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		h.leaveLocked(c, room)
	}
}

// Broadcast delivers event to every connection except exclude. Connections
// whose delivery fails are disconnected before Broadcast returns.
func (h *Hub) Broadcast(ctx context.Context, event models.Event, exclude string) Delivery {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(ctx, targets, event)
}

// BroadcastToRoom delivers event to every member of room except exclude.
// An unknown room is a no-op.
func (h *Hub) BroadcastToRoom(ctx context.Context, room string, event models.Event, exclude string) Delivery {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]*client, 0, len(members))
	for id, c := range members {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(ctx, targets, event)
}

// SendTo delivers event to a single connection. A failed send disconnects it.
func (h *Hub) SendTo(ctx context.Context, id string, event models.Event) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	if err := h.send(ctx, c, event); err != nil {
		h.logger.Warn("send failed, dropping connection", "connection_id", id, "error", err)
		h.Disconnect(id)
		return err
	}
	return nil
}

func (h *Hub) deliver(ctx context.Context, targets []*client, event models.Event) Delivery {
	if len(targets) == 0 {
		return Delivery{}
	}

	var (
		failedMu sync.Mutex
		failed   []string
	)
	var g errgroup.Group
	g.SetLimit(h.maxFanout)
	for _, c := range targets {
		g.Go(func() error {
			if err := h.send(ctx, c, event); err != nil {
				h.logger.Warn("delivery failed, dropping connection",
					"connection_id", c.id, "event", event.Type, "error", err)
				failedMu.Lock()
				failed = append(failed, c.id)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range failed {
		h.Disconnect(id)
	}
	return Delivery{Delivered: len(targets) - len(failed), Failed: len(failed)}
}

func (h *Hub) send(ctx context.Context, c *client, event models.Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.Send(ctx, event); err != nil {
		return err
	}
	c.touch(h.now())
	return nil
}

// PruneInactive disconnects every connection idle for longer than maxIdle
// and returns their ids.
func (h *Hub) PruneInactive(maxIdle time.Duration) []string {
	cutoff := h.now().Add(-maxIdle).UnixNano()

	h.mu.RLock()
	var stale []string
	for id, c := range h.clients {
		if c.lastActivity.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.logger.Info("pruning inactive connection", "connection_id", id, "max_idle", maxIdle)
		h.Disconnect(id)
	}
	return stale
}

// RoomClients returns the sorted connection ids in room.
func (h *Hub) RoomClients(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConnectionInfo returns the metadata of connection id.
func (h *Hub) ConnectionInfo(id string) (ConnectionInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return ConnectionInfo{
		ID:             c.id,
		ConnectedAt:    c.connectedAt,
		LastActivityAt: time.Unix(0, c.lastActivity.Load()).UTC(),
		Rooms:          rooms,
		UserAgent:      c.userAgent,
	}, true
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the member count of every non-empty room.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for name, members := range h.rooms {
		out[name] = len(members)
	}
	return out
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}
