package session

// State is the connection lifecycle of a session. Transitions only ever move
// Disconnected → Connecting → Active → Closing → Disconnected, with failed
// start attempts dropping straight back to Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}
