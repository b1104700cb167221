package endpoint

import "fmt"

// State is the lifecycle state of an endpoint.
type State int

const (
	// StateStopped means no socket is held.
	StateStopped State = iota
	// StateActive means the socket is bound and datagrams are being read.
	StateActive
	// StateError means the socket failed to bind or faulted while reading.
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "stopped":
		*s = StateStopped
	case "active":
		*s = StateActive
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown endpoint state %q", text)
	}
	return nil
}
