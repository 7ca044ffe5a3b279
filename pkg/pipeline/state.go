package pipeline

import (
	"fmt"
	"sync/atomic"
)

// State is the position of a run in the upload state machine
type State int32

const (
	StateIdle State = iota
	StateReading
	StateCompressing
	StateUploading
	StatePersisted
	StateDecompressing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateCompressing:
		return "compressing"
	case StateUploading:
		return "uploading"
	case StatePersisted:
		return "persisted"
	case StateDecompressing:
		return "decompressing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// machine holds the current state. Forward moves only; Failed is reachable
// from every non-terminal state.
type machine struct {
	state atomic.Int32
}

func (m *machine) Load() State {
	return State(m.state.Load())
}

// advance moves to next if it is ahead of the current state and the
// current state is not terminal. It reports whether the move happened.
func (m *machine) advance(next State) bool {
	for {
		cur := m.Load()
		if cur.Terminal() || next <= cur {
			return false
		}
		if m.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// fail moves to Failed from any non-terminal state
func (m *machine) fail() bool {
	return m.advance(StateFailed)
}
