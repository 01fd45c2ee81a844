// Package proxy runs the channel loops that sit between the host-facing
// and baseband-facing devices.
package proxy

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/rs/zerolog/log"
)

const DefaultPollTimeout = 500 * time.Millisecond

// Classifier decides what happens to one frame.
type Classifier interface {
	Classify(src router.Source, b []byte) router.Action
}

// Injector produces synthetic traffic on idle iterations.
type Injector interface {
	Pending() bool
	Tick(ctx context.Context, host, baseband io.Writer) (inject.Trigger, error)
}

type Config struct {
	PollTimeout time.Duration
	Backoff     BackoffConfig
	// Stats, when set, receives the channel's counters. Callers share it
	// when something else must count into the same channel.
	Stats *Stats
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.Stats == nil {
		c.Stats = &Stats{}
	}
	return c
}

// Rmnet relays QMUX frames between the host and baseband control devices.
type Rmnet struct {
	cfg      Config
	host     *Endpoint
	baseband *Endpoint
	router   Classifier
	injector Injector
	shared   *state.Shared
	stats    *Stats
	rng      *rand.Rand
	buf      [frame.MaxPacketSize]byte
}

// NewRmnet wires the control channel. injector may be nil.
func NewRmnet(cfg Config, host, baseband *Endpoint, r Classifier, injector Injector, shared *state.Shared) *Rmnet {
	if shared == nil {
		shared = &state.Shared{}
	}
	cfg = cfg.withDefaults()
	return &Rmnet{
		cfg:      cfg,
		host:     host,
		baseband: baseband,
		router:   r,
		injector: injector,
		shared:   shared,
		stats:    cfg.Stats,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Rmnet) Stats() *Stats {
	return r.stats
}

// Run loops until ctx is cancelled. Device errors are logged and the loop
// carries on.
func (r *Rmnet) Run(ctx context.Context) error {
	log.Info().Str("host", r.host.Path).Str("baseband", r.baseband.Path).Msg("proxy.rmnet start")
	defer func() {
		_ = r.host.Close()
		_ = r.baseband.Close()
		log.Info().Msg("proxy.rmnet stopped")
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Step(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		log.Warn().Err(err).Msg("proxy.rmnet step")
		// a device that keeps failing stays open; pace the retries
		if errors.Is(err, ErrDeviceIO) {
			_ = sleepCtx(ctx, r.cfg.PollTimeout)
		}
	}
}

// Step runs one loop iteration: reopen, poll, then handle baseband input,
// host input or one injector tick.
func (r *Rmnet) Step(ctx context.Context) error {
	now := time.Now()
	hostOK := r.host.ensureOpen(now, r.cfg.Backoff, r.rng)
	bbOK := r.baseband.ensureOpen(now, r.cfg.Backoff, r.rng)
	if !hostOK || !bbOK {
		return sleepCtx(ctx, r.cfg.PollTimeout)
	}

	ready, err := pollFds(r.cfg.PollTimeout, r.baseband.Fd(), r.host.Fd())
	if err != nil {
		return err
	}
	switch {
	case ready[0]:
		return r.forward(router.SourceBaseband, r.baseband, r.host)
	case ready[1]:
		return r.forward(router.SourceHost, r.host, r.baseband)
	case r.injector != nil && r.injector.Pending():
		trig, err := r.injector.Tick(ctx, r.host, r.baseband)
		if err != nil {
			return err
		}
		log.Debug().Stringer("trigger", trig).Msg("proxy.rmnet inject")
	}
	return nil
}

func (r *Rmnet) forward(src router.Source, from, to *Endpoint) error {
	n, err := from.Read(r.buf[:])
	if err != nil {
		r.stats.failed.Add(1)
		return err
	}
	b := r.buf[:n]
	action := r.router.Classify(src, b)
	switch action {
	case router.PassThrough:
		if src == router.SourceBaseband && r.shared.TransceiverSuspended() {
			r.stats.discarded.Add(1)
			return nil
		}
		if _, err := to.Write(b); err != nil {
			r.stats.failed.Add(1)
			return err
		}
		r.stats.allowed.Add(1)
	case router.ForcedPassThrough:
		r.stats.allowed.Add(1)
		if _, err := to.Write(b); err != nil {
			r.stats.failed.Add(1)
			return err
		}
	case router.Bypass:
		r.stats.bypassed.Add(1)
	case router.Empty:
		r.stats.empty.Add(1)
		log.Debug().Stringer("source", src).Int("len", n).Msg("proxy.rmnet empty read")
		return from.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
