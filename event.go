package filo

const (
	EventConnected EventType = iota
	EventDisconnected
)

// EventType discriminates connection state transitions.
type EventType uint8

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is published on a state stream each time a connection is
// established or goes away. `Conn` is only set for `EventConnected`;
// once a disconnection is observed the connection is already
// unusable.
type Event struct {
	Type EventType
	Conn *Conn
}
