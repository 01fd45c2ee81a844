// Package audio is the daemon's default call audio collaborator. It does not
// drive mixer hardware; it records session state, paces the alerting tone
// and bounds recordings so every call audio event is observable.
package audio

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// ToneCadence is the on/off period of the local alerting tone.
	ToneCadence time.Duration
	// MaxRecording bounds one recording; zero means until cancelled.
	MaxRecording time.Duration
	Hooks        Hooks
	// Runner executes Hooks; nil uses ExecRunner.
	Runner CommandRunner
}

var _ call.Audio = (*Sink)(nil)

type Sink struct {
	cfg    Config
	runner CommandRunner

	mu       sync.Mutex
	session  call.Mode
	sessions uint64
	tones    uint64
	bursts   uint64
	records  uint64
}

func NewSink(cfg Config) *Sink {
	if cfg.ToneCadence <= 0 {
		cfg.ToneCadence = time.Second
	}
	s := &Sink{cfg: cfg}
	if !cfg.Hooks.empty() {
		s.runner = cfg.Runner
		if s.runner == nil {
			s.runner = ExecRunner{}
		}
	}
	return s
}

func (s *Sink) StartSession(mode call.Mode) error {
	s.mu.Lock()
	s.session = mode
	s.sessions++
	s.mu.Unlock()
	log.Info().Stringer("mode", mode).Msg("audio.session start")
	return s.startHook(mode)
}

func (s *Sink) StopSession() error {
	s.mu.Lock()
	mode := s.session
	s.session = call.ModeNone
	s.mu.Unlock()
	log.Info().Stringer("mode", mode).Msg("audio.session stop")
	return s.stopHook()
}

// PlayAlertingTone emits tone bursts at the configured cadence until ctx is
// cancelled.
func (s *Sink) PlayAlertingTone(ctx context.Context) error {
	s.mu.Lock()
	s.tones++
	s.mu.Unlock()
	log.Info().Dur("cadence", s.cfg.ToneCadence).Msg("audio.tone start")

	t := time.NewTicker(s.cfg.ToneCadence)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audio.tone stop")
			return nil
		case <-t.C:
			s.mu.Lock()
			s.bursts++
			s.mu.Unlock()
		}
	}
}

// Record holds a recording open until ctx is cancelled or MaxRecording
// elapses.
func (s *Sink) Record(ctx context.Context) error {
	s.mu.Lock()
	s.records++
	s.mu.Unlock()
	if s.cfg.MaxRecording > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.MaxRecording)
		defer cancel()
	}
	start := time.Now()
	log.Info().Msg("audio.record start")
	<-ctx.Done()
	log.Info().Dur("duration", time.Since(start)).Msg("audio.record stop")
	return nil
}

type Stats struct {
	Session    call.Mode `json:"session"`
	Sessions   uint64    `json:"sessions"`
	Tones      uint64    `json:"tones"`
	ToneBursts uint64    `json:"tone_bursts"`
	Recordings uint64    `json:"recordings"`
}

func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Session:    s.session,
		Sessions:   s.sessions,
		Tones:      s.tones,
		ToneBursts: s.bursts,
		Recordings: s.records,
	}
}
