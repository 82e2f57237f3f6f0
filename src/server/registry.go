package server

import (
	"errors"
	"time"

	"sync"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Connection Registry
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateTransport means a transport handle was registered twice.
	// This cannot happen in normal operation and indicates a logic error.
	ErrDuplicateTransport = errors.New("transport already registered")

	// ErrNotRegistered means the target connection is no longer live.
	ErrNotRegistered = errors.New("connection not registered")
)

// -----------------------------------------------------------------------------

// Connection is one live client session. It is owned exclusively by
// the Registry; the send queue decouples broadcasters from slow
// sockets and guarantees per-connection FIFO delivery.
type Connection struct {
	ID          string
	UserID      string
	DisplayName string

	transport interfaces.ITransport
	// sendMu serializes enqueue against shutdown: the queue is only
	// closed while no sender holds the lock, so a broadcast racing a
	// disconnect sees the closed flag instead of a closed channel.
	sendMu sync.Mutex
	closed bool
	// Buffered queue drained by a single writePump, so events for one
	// connection are never reordered
	send chan *models.MEvent
}

// -----------------------------------------------------------------------------

// enqueue hands an event to the connection's write pump without
// blocking. A full buffer means the consumer is too slow to keep.
func (c *Connection) enqueue(event *models.MEvent) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- event:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// -----------------------------------------------------------------------------

// shutdown closes the send queue exactly once. The write pump drains
// whatever is already buffered, then exits. Idempotent.
func (c *Connection) shutdown() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// -----------------------------------------------------------------------------

// Registry tracks live connections. All mutations and reads of the
// live set are serialized behind one mutex; the registry is built in
// main and injected into every consumer rather than accessed as
// ambient global state.
type Registry struct {
	Logger *logger.Logger

	mu    sync.RWMutex
	conns map[interfaces.ITransport]*Connection
}

// -----------------------------------------------------------------------------

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		Logger: log,
		conns:  make(map[interfaces.ITransport]*Connection),
	}
}

// -----------------------------------------------------------------------------

// Register adds a connection for transport and starts its write pump.
// Registering the same transport twice is a logic error.
func (r *Registry) Register(transport interfaces.ITransport, userID, displayName string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[transport]; exists {
		return nil, ErrDuplicateTransport
	}

	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		transport:   transport,
		// Buffered channel to prevent blocking broadcasters
		send: make(chan *models.MEvent, 256),
	}
	r.conns[transport] = conn

	go conn.writePump(r.Logger)

	r.Logger.Info("Registered connection %s (%s). Active connections: %d", conn.ID, displayName, len(r.conns))
	return conn, nil
}

// -----------------------------------------------------------------------------

// Unregister removes the connection for transport if present and
// returns its display name for the "user left" notice. Idempotent.
func (r *Registry) Unregister(transport interfaces.ITransport) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[transport]
	if !ok {
		return "", false
	}

	delete(r.conns, transport)
	conn.shutdown()

	r.Logger.Info("Unregistered connection %s (%s). Remaining connections: %d", conn.ID, conn.DisplayName, len(r.conns))
	return conn.DisplayName, true
}

// -----------------------------------------------------------------------------

// Broadcast delivers event to every live connection except exclude.
// Delivery is best-effort per connection: one connection's failure
// never aborts delivery to the others.
func (r *Registry) Broadcast(event *models.MEvent, exclude *Connection) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if conn != exclude {
			snapshot = append(snapshot, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		if err := conn.enqueue(event); err != nil {
			// Client too slow, disconnect to keep the fanout healthy
			r.Logger.Warning("Dropping connection %s: %v", conn.ID, err)
			r.Unregister(conn.transport)
		}
	}
}

// -----------------------------------------------------------------------------

// Unicast delivers event to exactly one connection.
func (r *Registry) Unicast(event *models.MEvent, conn *Connection) error {
	r.mu.RLock()
	live := r.conns[conn.transport] == conn
	r.mu.RUnlock()

	if !live {
		return ErrNotRegistered
	}
	return conn.enqueue(event)
}

// -----------------------------------------------------------------------------

// ListActive snapshots the "who is online" roster.
func (r *Registry) ListActive() []models.MActiveUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]models.MActiveUser, 0, len(r.conns))
	for _, conn := range r.conns {
		users = append(users, models.MActiveUser{UserID: conn.UserID, Username: conn.DisplayName})
	}
	return users
}

// -----------------------------------------------------------------------------

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// -----------------------------------------------------------------------------

// now is the broadcast timestamp helper shared by relay and server.
func now() int64 {
	return time.Now().UnixMilli()
}
