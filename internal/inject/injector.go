// Package inject produces the synthetic traffic the proxy sends on idle
// iterations: queued messages, stuck-message retrieval, the simulated
// incoming call and debug cell broadcasts.
package inject

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/messaging"
	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/rs/zerolog/log"
)

// Trigger names the condition a tick acted on.
type Trigger uint8

const (
	TriggerNone Trigger = iota
	TriggerStuckRetrieval
	TriggerInternalQueue
	TriggerExternalNotification
	TriggerSimulatedCall
	TriggerCallHeartbeat
	TriggerCallHangup
	TriggerCellBroadcast
)

var triggerNames = [...]string{
	TriggerNone:                 "none",
	TriggerStuckRetrieval:       "stuck_retrieval",
	TriggerInternalQueue:        "internal_queue",
	TriggerExternalNotification: "external_notification",
	TriggerSimulatedCall:        "simulated_call",
	TriggerCallHeartbeat:        "call_heartbeat",
	TriggerCallHangup:           "call_hangup",
	TriggerCellBroadcast:        "cell_broadcast",
}

func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return fmt.Sprintf("trigger_%d", uint8(t))
}

// CBMode selects how debug cell broadcasts are produced.
type CBMode uint8

const (
	CBOff CBMode = iota
	CBSingle
	CBRandom
	CBStream
)

func (m CBMode) String() string {
	switch m {
	case CBSingle:
		return "single"
	case CBRandom:
		return "random"
	case CBStream:
		return "stream"
	default:
		return "off"
	}
}

func ParseCBMode(raw string) (CBMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single":
		return CBSingle, nil
	case "random":
		return CBRandom, nil
	case "stream":
		return CBStream, nil
	case "off", "":
		return CBOff, nil
	}
	return CBOff, fmt.Errorf("inject: unknown cell broadcast mode %q", raw)
}

// Messaging is the part of the messaging service the injector drives.
type Messaging interface {
	Pending() bool
	Source() messaging.Source
	SetSource(messaging.Source)
	DrainOne() ([]byte, bool)
	Notification() []byte
	StuckPending() bool
	RetrieveStuck() (toBaseband, toHost [][]byte)
}

// ClientLookup resolves the client id synthetic frames are addressed to.
type ClientLookup interface {
	ClientFor(protocol.ServiceID) (uint8, bool)
}

const (
	DefaultHeartbeat    = 3 * time.Second
	DefaultCBInterval   = 10 * time.Second
	DefaultCallerNumber = "+15550123"
	defaultClientID     = 1
)

type Config struct {
	// Heartbeat is the spacing of repeated ringing indications while a
	// simulated call is up.
	Heartbeat    time.Duration
	// CBInterval is the spacing of messages in stream mode.
	CBInterval   time.Duration
	CallerNumber string
	Catalog      Catalog
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.CBInterval <= 0 {
		c.CBInterval = DefaultCBInterval
	}
	if c.CallerNumber == "" {
		c.CallerNumber = DefaultCallerNumber
	}
	return c
}

type Injector struct {
	cfg     Config
	msgs    Messaging
	shared  *state.Shared
	clients ClientLookup
	now     func() time.Time
	rng     *rand.Rand

	mu          sync.Mutex
	callPending bool
	hangup      bool
	number      string
	lastBeat    time.Time
	cbMode      CBMode
	cbNext      time.Time
	cbIndex     int
	cbUpdate    uint8
	cbPages     [][]byte
}

// New builds an injector. clients may be nil, in which case synthetic frames
// use client id 1.
func New(cfg Config, msgs Messaging, shared *state.Shared, clients ClientLookup) *Injector {
	if shared == nil {
		shared = &state.Shared{}
	}
	cfg = cfg.withDefaults()
	if len(cfg.Catalog) == 0 {
		cat, err := LoadCatalog("")
		if err != nil {
			log.Warn().Err(err).Msg("inject.catalog default unavailable")
		}
		cfg.Catalog = cat
	}
	return &Injector{
		cfg:     cfg,
		msgs:    msgs,
		shared:  shared,
		clients: clients,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RequestCall schedules a simulated incoming call from number.
func (in *Injector) RequestCall(number string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if number == "" {
		number = in.cfg.CallerNumber
	}
	in.callPending = true
	in.hangup = false
	in.number = number
	log.Info().Str("number", number).Msg("inject.call requested")
}

// EndCall hangs up the simulated call on the next tick.
func (in *Injector) EndCall() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.callPending {
		in.callPending = false
		log.Info().Msg("inject.call cancelled before ringing")
		return
	}
	if in.shared.CallSimulation() {
		in.hangup = true
	}
}

func (in *Injector) CallPending() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.callPending
}

func (in *Injector) RequestCB(mode CBMode) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cbMode = mode
	in.cbNext = time.Time{}
	log.Info().Stringer("mode", mode).Msg("inject.cb requested")
}

// StopCB cancels broadcasts, including pages not yet sent.
func (in *Injector) StopCB() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.cbMode = CBOff
	in.cbPages = nil
}

func (in *Injector) CBMode() CBMode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cbMode
}

// Pending reports whether Tick has work.
func (in *Injector) Pending() bool {
	if in.msgs != nil && (in.msgs.StuckPending() || in.msgs.Pending()) {
		return true
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	now := in.now()
	return in.callPending || in.heartbeatDueLocked(now) || in.cbDueLocked(now)
}

func (in *Injector) heartbeatDueLocked(now time.Time) bool {
	if !in.shared.CallSimulation() {
		return false
	}
	return in.hangup || now.Sub(in.lastBeat) >= in.cfg.Heartbeat
}

// cbDueLocked holds cell broadcasts back for the whole simulated call, not
// only while a heartbeat is due.
func (in *Injector) cbDueLocked(now time.Time) bool {
	if in.shared.CallSimulation() {
		return false
	}
	if len(in.cbPages) > 0 {
		return true
	}
	return in.cbMode != CBOff && !now.Before(in.cbNext)
}

// Tick performs exactly one injection, the first that applies in priority
// order, and reports which trigger fired.
func (in *Injector) Tick(ctx context.Context, host, baseband io.Writer) (Trigger, error) {
	if err := ctx.Err(); err != nil {
		return TriggerNone, err
	}
	if in.msgs != nil {
		if in.msgs.StuckPending() {
			toBaseband, toHost := in.msgs.RetrieveStuck()
			if err := in.write(TriggerStuckRetrieval, "baseband", baseband, toBaseband...); err != nil {
				return TriggerStuckRetrieval, err
			}
			return TriggerStuckRetrieval, in.write(TriggerStuckRetrieval, "host", host, toHost...)
		}
		if in.msgs.Pending() {
			switch in.msgs.Source() {
			case messaging.SourceInternal:
				if b, ok := in.msgs.DrainOne(); ok {
					return TriggerInternalQueue, in.write(TriggerInternalQueue, "host", host, b)
				}
			case messaging.SourceExternal:
				b := in.msgs.Notification()
				in.msgs.SetSource(messaging.SourceNone)
				if b != nil {
					return TriggerExternalNotification, in.write(TriggerExternalNotification, "host", host, b)
				}
			}
		}
	}

	in.mu.Lock()
	now := in.now()
	switch {
	case in.callPending:
		in.callPending = false
		in.shared.SetCallSimulation(true)
		in.lastBeat = now
		b := CallStatusFrame(in.clientLocked(protocol.ServiceVoice), in.number, call.StateRinging)
		in.mu.Unlock()
		log.Info().Msg("inject.call ringing")
		return TriggerSimulatedCall, in.write(TriggerSimulatedCall, "host", host, b)
	case in.shared.CallSimulation() && in.hangup:
		in.hangup = false
		in.shared.SetCallSimulation(false)
		b := CallStatusFrame(in.clientLocked(protocol.ServiceVoice), in.number, call.StateHangup)
		in.mu.Unlock()
		log.Info().Msg("inject.call hangup")
		return TriggerCallHangup, in.write(TriggerCallHangup, "host", host, b)
	case in.heartbeatDueLocked(now):
		in.lastBeat = now
		b := CallStatusFrame(in.clientLocked(protocol.ServiceVoice), in.number, call.StateRinging)
		in.mu.Unlock()
		return TriggerCallHeartbeat, in.write(TriggerCallHeartbeat, "host", host, b)
	case in.cbDueLocked(now):
		b, err := in.nextCBPageLocked(now)
		in.mu.Unlock()
		if err != nil || b == nil {
			return TriggerCellBroadcast, err
		}
		return TriggerCellBroadcast, in.write(TriggerCellBroadcast, "host", host, b)
	}
	in.mu.Unlock()
	return TriggerNone, nil
}

func (in *Injector) nextCBPageLocked(now time.Time) ([]byte, error) {
	if len(in.cbPages) == 0 {
		if len(in.cfg.Catalog) == 0 {
			in.cbMode = CBOff
			return nil, ErrEmptyCatalog
		}
		var e CBEntry
		switch in.cbMode {
		case CBRandom:
			e = in.cfg.Catalog[in.rng.Intn(len(in.cfg.Catalog))]
			in.cbMode = CBOff
		case CBSingle:
			e = in.cfg.Catalog[in.cbIndex%len(in.cfg.Catalog)]
			in.cbIndex++
			in.cbMode = CBOff
		default:
			e = in.cfg.Catalog[in.cbIndex%len(in.cfg.Catalog)]
			in.cbIndex++
			in.cbNext = now.Add(in.cfg.CBInterval)
		}
		pages, err := CBFrames(in.clientLocked(protocol.ServiceWMS), e, in.cbUpdate)
		if err != nil {
			return nil, err
		}
		in.cbUpdate++
		in.cbPages = pages
		log.Info().Uint16("message_id", e.MessageID).Int("pages", len(pages)).Msg("inject.cb message")
	}
	b := in.cbPages[0]
	in.cbPages[0] = nil
	in.cbPages = in.cbPages[1:]
	return b, nil
}

func (in *Injector) clientLocked(svc protocol.ServiceID) uint8 {
	if in.clients != nil {
		if cid, ok := in.clients.ClientFor(svc); ok {
			return cid
		}
	}
	return defaultClientID
}

func (in *Injector) write(t Trigger, direction string, w io.Writer, frames ...[]byte) error {
	if len(frames) == 0 {
		return nil
	}
	sent := 0
	defer func() {
		observability.RecordInjected(t.String(), direction, sent)
	}()
	for _, b := range frames {
		if _, err := w.Write(b); err != nil {
			log.Warn().Err(err).Stringer("trigger", t).Str("direction", direction).Msg("inject.write failed")
			return err
		}
		sent++
	}
	log.Debug().Stringer("trigger", t).Str("direction", direction).Int("frames", sent).Msg("inject.tick")
	return nil
}
