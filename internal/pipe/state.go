package pipe

import "fmt"

// State is the connection phase of a Pipe. Exactly one holds at a time.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disposed
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "disposed"}

func (s State) String() string {
	if s < Disconnected || s > Disposed {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// active reports whether the channel subscription should exist.
func (s State) active() bool {
	return s == Connecting || s == Connected
}
