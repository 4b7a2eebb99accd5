package source

import (
	"fmt"
	"sync/atomic"
)

// State is the connection state of a Session.
//
//	Disconnected ──Connect──► Connected ──Close──► Disconnected
//
// A closed Session stays closed; a new Connect yields a new Session.
type State int32

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// StateGuard tracks the state of one Session. Adapters embed it, call
// Open after a successful login, Check at the top of every fetch and
// Release from Close.
type StateGuard struct {
	state atomic.Int32
}

// Open moves the guard to Connected.
func (g *StateGuard) Open() {
	g.state.Store(int32(Connected))
}

// State returns the current state.
func (g *StateGuard) State() State {
	return State(g.state.Load())
}

// Check returns ErrClosed unless the guard is Connected.
func (g *StateGuard) Check() error {
	if g.State() != Connected {
		return ErrClosed
	}
	return nil
}

// Release moves the guard to Disconnected and reports whether this call
// performed the transition. Second and later calls return false.
func (g *StateGuard) Release() bool {
	return g.state.CompareAndSwap(int32(Connected), int32(Disconnected))
}
