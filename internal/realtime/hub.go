package realtime

import (
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQueueSize = 64

var (
	errConnectionClosed = errors.New("realtime: connection closed")
	errQueueFull        = errors.New("realtime: send queue full")
)

// Conn is one authenticated duplex channel. Transport code drains Outbound and
// closes the socket once Done fires.
type Conn struct {
	id       string
	identity auth.Identity
	send     chan []byte
	done     chan struct{}

	closeOnce   sync.Once
	closeReason string

	mu    sync.Mutex
	rooms map[Room]struct{}
}

func newConn(identity auth.Identity, queueSize int) *Conn {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Conn{
		id:       id.String(),
		identity: identity,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		rooms:    make(map[Room]struct{}),
	}
}

// ID returns the process-unique connection id.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the identity attached at handshake.
func (c *Conn) Identity() auth.Identity {
	return c.identity
}

// Outbound yields encoded frames queued for this connection.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection must be torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Only the first reason is kept.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

// CloseReason reports why the connection was closed, empty while open.
func (c *Conn) CloseReason() string {
	select {
	case <-c.done:
		return c.closeReason
	default:
		return ""
	}
}

// InRoom reports whether the connection has joined room.
func (c *Conn) InRoom(room Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms lists the rooms the connection has joined.
func (c *Conn) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]Room, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errQueueFull
	}
}

// HubConfig configures the connection registry.
type HubConfig struct {
	QueueSize int
	Logger    *zap.Logger
}

// Hub is the process-wide registry of connections and rooms.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	rooms     map[Room]map[string]*Conn
	queueSize int
	logger    *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(cfg HubConfig) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:     make(map[string]*Conn),
		rooms:     make(map[Room]map[string]*Conn),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Register creates and tracks a connection for an authenticated identity.
func (h *Hub) Register(identity auth.Identity) *Conn {
	conn := newConn(identity, h.queueSize)
	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	return conn
}

// Unregister removes the connection from every room and closes it.
func (h *Hub) Unregister(conn *Conn) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.conns[conn.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.id)
	conn.mu.Lock()
	for room := range conn.rooms {
		h.removeMemberLocked(room, conn.id)
	}
	conn.rooms = make(map[Room]struct{})
	conn.mu.Unlock()
	h.mu.Unlock()

	conn.Close(metrics.CloseReasonPeer)
	metrics.ConnectionsActive.Dec()
	metrics.ConnectionsClosed.WithLabelValues(conn.CloseReason()).Inc()
}

// Join adds the connection to room. Joining twice is a no-op.
func (h *Hub) Join(conn *Conn, room Room) bool {
	if conn == nil || !room.Valid() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.id]; !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[conn.id] = conn
	conn.mu.Lock()
	conn.rooms[room] = struct{}{}
	conn.mu.Unlock()
	return true
}

// Leave removes the connection from room. Leaving a room the connection is not in is a no-op.
func (h *Hub) Leave(conn *Conn, room Room) {
	if conn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMemberLocked(room, conn.id)
	conn.mu.Lock()
	delete(conn.rooms, room)
	conn.mu.Unlock()
}

func (h *Hub) removeMemberLocked(room Room, connID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomSize reports how many connections are joined to room.
func (h *Hub) RoomSize(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit delivers an event to every connection in room and returns the number of recipients.
func (h *Hub) Emit(room Room, event string, payload interface{}) int {
	return h.EmitExcept(room, nil, event, payload)
}

// EmitExcept delivers an event to every connection in room other than except.
func (h *Hub) EmitExcept(room Room, except *Conn, event string, payload interface{}) int {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.String("room", room.String()), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	members := h.rooms[room]
	if len(members) == 0 {
		h.mu.RUnlock()
		return 0
	}
	recipients := make([]*Conn, 0, len(members))
	for _, conn := range members {
		if except != nil && conn.id == except.id {
			continue
		}
		recipients = append(recipients, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range recipients {
		if h.deliver(conn, event, frame) {
			delivered++
		}
	}
	return delivered
}

// Send delivers an event to a single connection.
func (h *Hub) Send(conn *Conn, event string, payload interface{}) bool {
	if conn == nil {
		return false
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return h.deliver(conn, event, frame)
}

func (h *Hub) deliver(conn *Conn, event string, frame []byte) bool {
	err := conn.enqueue(frame)
	switch {
	case err == nil:
		metrics.OutboundFrames.WithLabelValues(event).Inc()
		return true
	case errors.Is(err, errQueueFull):
		h.logger.Warn("closing slow consumer",
			zap.String("connection_id", conn.id),
			zap.String("user_id", conn.identity.UserID),
			zap.String("event", event),
		)
		conn.Close(metrics.CloseReasonSlow)
		return false
	default:
		return false
	}
}

// CloseAll closes every registered connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close(metrics.CloseReasonShutdown)
	}
}
