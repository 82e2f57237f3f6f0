package interfaces

// ITransport is one client's message-oriented bidirectional channel.
// Implementations own the underlying connection; the registry never
// shares a transport between two connections.
type ITransport interface {
	// ReadMessage blocks until the next inbound message or transport error.
	ReadMessage() ([]byte, error)

	// WriteJSON delivers one outbound event. Implementations serialize
	// concurrent writers.
	WriteJSON(v interface{}) error

	// Ping probes connection liveness; no-op for transports without a
	// control channel.
	Ping() error

	Close() error
}
