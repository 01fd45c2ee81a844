// Package state holds the read-mostly flags shared by the proxy loops, the
// injector and the admin surface.
package state

import (
	"sync/atomic"
)

// Shared is passed by pointer to every component that reads or flips these
// flags. The zero value is ready to use.
type Shared struct {
	callSimulation atomic.Bool
	suspended      atomic.Bool
}

func (s *Shared) CallSimulation() bool {
	return s.callSimulation.Load()
}

func (s *Shared) SetCallSimulation(v bool) {
	s.callSimulation.Store(v)
}

// TransceiverSuspended reports the last probed host transport state.
func (s *Shared) TransceiverSuspended() bool {
	return s.suspended.Load()
}

func (s *Shared) SetTransceiverSuspended(v bool) {
	s.suspended.Store(v)
}
