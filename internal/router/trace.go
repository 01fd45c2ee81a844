package router

import (
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/rs/zerolog/log"
)

// EnableTrace dumps every frame of a service to the log.
func (r *Router) EnableTrace(svc protocol.ServiceID) {
	r.trace[svc].Store(true)
	log.Info().Stringer("service", svc).Msg("router.trace enabled")
}

func (r *Router) DisableTrace(svc protocol.ServiceID) {
	r.trace[svc].Store(false)
}

func (r *Router) DisableAllTrace() {
	for i := range r.trace {
		r.trace[i].Store(false)
	}
	log.Info().Msg("router.trace disabled")
}

// Traced lists the services with tracing enabled.
func (r *Router) Traced() []protocol.ServiceID {
	var out []protocol.ServiceID
	for i := range r.trace {
		if r.trace[i].Load() {
			out = append(out, protocol.ServiceID(i))
		}
	}
	return out
}
