// Package router classifies every frame crossing the rmnet channel and
// decides what the multiplexer does with it.
package router

import (
	"sync/atomic"

	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/rs/zerolog/log"
)

// Source is the endpoint a frame was read from.
type Source uint8

const (
	SourceHost Source = iota
	SourceBaseband
)

func (s Source) String() string {
	if s == SourceHost {
		return "host"
	}
	return "baseband"
}

// Peer is the endpoint a frame from s is forwarded to.
func (s Source) Peer() Source {
	if s == SourceHost {
		return SourceBaseband
	}
	return SourceHost
}

type Action uint8

const (
	PassThrough Action = iota
	// ForcedPassThrough is written even while the host transport is suspended.
	ForcedPassThrough
	Bypass
	// Empty means the read returned nothing usable; the source endpoint is closed.
	Empty
)

func (a Action) String() string {
	switch a {
	case PassThrough:
		return "pass_through"
	case ForcedPassThrough:
		return "forced_pass_through"
	case Bypass:
		return "bypass"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Messaging inspects WMS frames. Each check reports whether it handled the frame.
type Messaging interface {
	CheckWMSMessage(src Source, b []byte) bool
	CheckWMSIndication(b []byte) bool
	CheckCBMessage(b []byte) bool
	NeedsRerouting(b []byte) bool
}

// ClientTracker observes control-service client id allocation and release.
type ClientTracker interface {
	Track(src Source, b []byte)
}

// VoiceHandler applies voice frames. A non-nil error forces the frame through.
type VoiceHandler interface {
	HandleFrame(b []byte) error
}

// OtherCounter counts location frames seen on the rmnet channel.
type OtherCounter interface {
	CountOther()
}

type Deps struct {
	Shared    *state.Shared
	Messaging Messaging
	Tracker   ClientTracker
	Voice     VoiceHandler
	Location  OtherCounter
}

type route func(src Source, b []byte) Action

type Router struct {
	deps   Deps
	routes map[protocol.ServiceID]route
	trace  [256]atomic.Bool
}

func New(deps Deps) *Router {
	if deps.Shared == nil {
		deps.Shared = &state.Shared{}
	}
	r := &Router{deps: deps}
	r.routes = map[protocol.ServiceID]route{
		protocol.ServiceControl: r.control,
		protocol.ServiceNAS:     r.nas,
		protocol.ServiceWMS:     r.wms,
		protocol.ServiceVoice:   r.voice,
		protocol.ServiceLOC:     r.location,
	}
	return r
}

// Classify returns the action for one frame read from src.
func (r *Router) Classify(src Source, b []byte) Action {
	if len(b) == 0 {
		log.Warn().Stringer("source", src).Msg("router.classify empty read, endpoint closed?")
		return Empty
	}
	if len(b) < frame.MinControlFrame {
		log.Error().Stringer("source", src).Int("len", len(b)).Msg("router.classify frame too short")
		return Empty
	}

	svc := frame.ServiceOf(b)
	if r.trace[svc].Load() {
		log.Info().Stringer("source", src).Msgf("router.trace %s", frame.Dump(b))
	}

	action := PassThrough
	if fn, ok := r.routes[svc]; ok {
		action = fn(src, b)
	}
	log.Debug().
		Stringer("source", src).
		Stringer("service", svc).
		Str("message", protocol.MessageLabel(svc, frame.MessageIDOf(b))).
		Int("len", len(b)).
		Stringer("action", action).
		Msg("router.classify")
	observability.RecordVerdict(svc.String(), src.String(), action.String())
	return action
}

func (r *Router) control(src Source, b []byte) Action {
	switch frame.MessageIDOf(b) {
	case protocol.CtlClientRegisterReq, protocol.CtlClientReleaseReq:
		if r.deps.Tracker != nil {
			r.deps.Tracker.Track(src, b)
		}
	}
	return PassThrough
}

func (r *Router) nas(_ Source, b []byte) Action {
	if r.deps.Shared.CallSimulation() && frame.MessageIDOf(b) == protocol.NASGetSignalInfo {
		log.Info().Msg("router.nas skip signal report during simulated call")
		return Bypass
	}
	return PassThrough
}

func (r *Router) wms(src Source, b []byte) Action {
	m := r.deps.Messaging
	if m == nil {
		return ForcedPassThrough
	}
	switch {
	case m.CheckWMSMessage(src, b):
		return Bypass
	case m.CheckWMSIndication(b), m.CheckCBMessage(b):
		return ForcedPassThrough
	case src == SourceHost && m.NeedsRerouting(b):
		return Bypass
	}
	return ForcedPassThrough
}

func (r *Router) voice(_ Source, b []byte) Action {
	if r.deps.Voice == nil {
		return PassThrough
	}
	if err := r.deps.Voice.HandleFrame(b); err != nil {
		return ForcedPassThrough
	}
	return PassThrough
}

func (r *Router) location(_ Source, b []byte) Action {
	if r.deps.Location != nil {
		r.deps.Location.CountOther()
	}
	log.Debug().Str("message", protocol.MessageLabel(protocol.ServiceLOC, frame.MessageIDOf(b))).Msg("router.location")
	return PassThrough
}
