package client

// ConnectionState tracks the lifecycle of the WebSocket link.
type ConnectionState int

const (
	// Disconnected means no socket is open. Initial state, and the state
	// after any close while reconnect attempts remain.
	Disconnected ConnectionState = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means the socket is open and the handshake has been sent.
	Connected
	// Failed means reconnect attempts are exhausted. Terminal until an
	// explicit Connect call.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
