package proxy

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/rs/zerolog/log"
)

// Location relays the GPS channel unchanged. While the transceiver is
// suspended the host side stays closed and baseband output is dropped.
type Location struct {
	cfg      Config
	host     *Endpoint
	baseband *Endpoint
	shared   *state.Shared
	stats    *Stats
	rng      *rand.Rand
	buf      [frame.MaxPacketSize]byte
}

func NewLocation(cfg Config, host, baseband *Endpoint, shared *state.Shared) *Location {
	if shared == nil {
		shared = &state.Shared{}
	}
	cfg = cfg.withDefaults()
	return &Location{
		cfg:      cfg,
		host:     host,
		baseband: baseband,
		shared:   shared,
		stats:    cfg.Stats,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Location) Stats() *Stats {
	return l.stats
}

func (l *Location) Run(ctx context.Context) error {
	log.Info().Str("host", l.host.Path).Str("baseband", l.baseband.Path).Msg("proxy.location start")
	defer func() {
		log.Info().Msg("proxy.location stopped")
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.Step(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		log.Warn().Err(err).Msg("proxy.location step")
		// a device that keeps failing stays open; pace the retries
		if errors.Is(err, ErrDeviceIO) {
			_ = sleepCtx(ctx, l.cfg.PollTimeout)
		}
	}
}

func (l *Location) Step(ctx context.Context) error {
	now := time.Now()
	if !l.baseband.ensureOpen(now, l.cfg.Backoff, l.rng) {
		return sleepCtx(ctx, l.cfg.PollTimeout)
	}
	suspended := l.shared.TransceiverSuspended()
	if !suspended {
		l.host.ensureOpen(now, l.cfg.Backoff, l.rng)
	}

	ready, err := pollFds(l.cfg.PollTimeout, l.baseband.Fd(), l.host.Fd())
	if err != nil {
		return err
	}
	switch {
	case ready[0]:
		n, err := l.baseband.Read(l.buf[:])
		if err != nil {
			l.stats.failed.Add(1)
				return err
		}
		if n == 0 {
			l.stats.empty.Add(1)
			return l.baseband.Close()
		}
		if suspended || !l.host.IsOpen() {
			l.stats.discarded.Add(1)
			return nil
		}
		return l.relay(l.host, l.buf[:n])
	case ready[1]:
		n, err := l.host.Read(l.buf[:])
		if err != nil {
			l.stats.failed.Add(1)
				return err
		}
		if n == 0 {
			l.stats.empty.Add(1)
			return l.host.Close()
		}
		return l.relay(l.baseband, l.buf[:n])
	}
	return nil
}

func (l *Location) relay(to *Endpoint, b []byte) error {
	if _, err := to.Write(b); err != nil {
		l.stats.failed.Add(1)
		return err
	}
	l.stats.allowed.Add(1)
	return nil
}
