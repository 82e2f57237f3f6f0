package server

import (
	"sync"
	"time"

	"finance-relay/src/logger"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Websocket Transport
// -----------------------------------------------------------------------------

// WSTransport adapts a gorilla connection to the ITransport interface.
// The mutex serializes the write pump against pre-handshake writes from
// the relay's read loop.
type WSTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// -----------------------------------------------------------------------------

func NewWSTransport(conn *websocket.Conn) *WSTransport {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &WSTransport{conn: conn}
}

// -----------------------------------------------------------------------------

func (t *WSTransport) ReadMessage() ([]byte, error) {
	_, message, err := t.conn.ReadMessage()
	return message, err
}

// -----------------------------------------------------------------------------

func (t *WSTransport) WriteJSON(v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

// -----------------------------------------------------------------------------

func (t *WSTransport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// -----------------------------------------------------------------------------

func (t *WSTransport) Close() error {
	return t.conn.Close()
}

// -----------------------------------------------------------------------------
// writePump - drains the send queue to the transport
// -----------------------------------------------------------------------------

func (c *Connection) writePump(log *logger.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.transport.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				// Registry closed the queue
				return
			}
			if err := c.transport.WriteJSON(event); err != nil {
				log.Info("Write error on connection %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				return
			}
		}
	}
}
