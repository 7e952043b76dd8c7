package ports

import "context"

// TransportEvents receives the lifecycle callbacks of one open transport.
// OnError may be followed by OnClose for the same failure; OnClose fires
// exactly once.
type TransportEvents interface {
	OnClose(code int, reason string)
	OnError(err error)
}

// Transport is one open duplex connection.
type Transport interface {
	// Send queues data for delivery without blocking.
	Send(data []byte) error
	// Close initiates a close handshake with the given code.
	Close(code int, reason string) error
}

// Dialer opens transports. Dial blocks until the connection is open or has
// failed to open.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, events TransportEvents) (Transport, error)
}
