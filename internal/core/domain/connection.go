package domain

// ConnectionState is the client's view of its single logical transport.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// HasTransport reports whether a live transport handle is expected in s.
func (s ConnectionState) HasTransport() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// WebSocket close codes the state machine distinguishes.
const (
	CloseNormalClosure   = 1000
	CloseAbnormalClosure = 1006
)
