package client

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

var stateNames = []string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateOpen:         "open",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

// String returns the string representation of the state.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
