package registry

// State is a controller lifecycle state. A run moves
// Idle -> Discovering -> Auditing(i)... -> Completed.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateAuditing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateAuditing:
		return "auditing"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
