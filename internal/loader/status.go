package loader

import "fmt"

// LoadStatus is the lifecycle state of a load task.
type LoadStatus int32

const (
	StatusNone LoadStatus = iota
	StatusStarted
	StatusSuccess
	StatusError
)

// String returns the status name.
func (s LoadStatus) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusStarted:
		return "STARTED"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s LoadStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// canTransition reports whether from -> to is allowed. Status only moves
// forward: NONE -> STARTED -> SUCCESS | ERROR.
func canTransition(from, to LoadStatus) bool {
	switch from {
	case StatusNone:
		return to == StatusStarted
	case StatusStarted:
		return to == StatusSuccess || to == StatusError
	default:
		return false
	}
}
