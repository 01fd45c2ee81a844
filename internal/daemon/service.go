// Package daemon assembles the proxy components from a config and runs
// them under one context.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/qmuxd/internal/admin"
	"github.com/danmuck/qmuxd/internal/audio"
	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/config"
	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/messaging"
	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/proxy"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/danmuck/qmuxd/internal/tracking"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var ErrNoChannels = errors.New("daemon: no channel enabled")

type Service struct {
	cfg config.Config

	Shared   *state.Shared
	Audio    *audio.Sink
	Calls    *call.Machine
	Messages *messaging.Service
	Clients  *tracking.Tracker
	Router   *router.Router
	Injector *inject.Injector
	Rmnet    *proxy.Rmnet
	Location *proxy.Location
	Probe    *state.SuspendProbe
	Admin    *admin.Server
}

// NewService wires every component. Devices are not opened until Run.
func NewService(cfg config.Config) (*Service, error) {
	return newService(cfg, prometheus.DefaultRegisterer)
}

func newService(cfg config.Config, reg prometheus.Registerer) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if !cfg.Rmnet.Enabled && !cfg.GPS.Enabled {
		return nil, ErrNoChannels
	}
	s := &Service{cfg: cfg, Shared: &state.Shared{}}

	s.Audio = audio.NewSink(audio.Config{
		ToneCadence:  config.MustDuration(cfg.Audio.ToneCadence),
		MaxRecording: config.MustDuration(cfg.Audio.MaxRecording),
		Hooks: audio.Hooks{
			OnStart: audio.ParseHook(cfg.Audio.SessionStartHook),
			OnStop:  audio.ParseHook(cfg.Audio.SessionStopHook),
		},
	})
	s.Calls = call.NewMachine(call.Config{
		CustomAlertTone:    cfg.Audio.CustomAlertTone,
		ExternalCodecReset: cfg.Audio.ExternalCodecReset,
		AutoRecord:         cfg.Audio.AutoRecord,
	}, s.Audio)
	s.Messages = messaging.New(messaging.Config{
		QueueSize:    cfg.Messaging.QueueSize,
		SelfNumber:   cfg.Messaging.SelfNumber,
		SenderNumber: cfg.Messaging.SenderNumber,
		ClientID:     uint8(cfg.Messaging.ClientID),
	}, s.handleCommand)
	s.Clients = tracking.New()

	catalog, err := inject.LoadCatalog(cfg.Inject.CBCatalog)
	if err != nil {
		return nil, fmt.Errorf("load cell broadcast catalog: %w", err)
	}
	s.Injector = inject.New(inject.Config{
		Heartbeat:    config.MustDuration(cfg.Inject.Heartbeat),
		CBInterval:   config.MustDuration(cfg.Inject.CBInterval),
		CallerNumber: cfg.Inject.CallerNumber,
		Catalog:      catalog,
	}, s.Messages, s.Shared, s.Clients)

	var gpsStats, rmnetStats *proxy.Stats
	if cfg.GPS.Enabled {
		s.Location = proxy.NewLocation(channelConfig(cfg.GPS),
			proxy.NewEndpoint("gps-host", cfg.GPS.Host),
			proxy.NewEndpoint("gps-baseband", cfg.GPS.Baseband),
			s.Shared)
		gpsStats = s.Location.Stats()
	}
	deps := router.Deps{
		Shared:    s.Shared,
		Messaging: s.Messages,
		Tracker:   s.Clients,
		Voice:     s.Calls,
	}
	if cfg.Rmnet.Enabled {
		rmnetStats = &proxy.Stats{}
	}
	// LOC frames seen on rmnet count against gps, or against rmnet itself
	// when the gps channel is off.
	switch {
	case gpsStats != nil:
		deps.Location = gpsStats
	case rmnetStats != nil:
		deps.Location = rmnetStats
	}
	s.Router = router.New(deps)
	for _, raw := range cfg.Debug.Trace {
		svc, err := protocol.ParseServiceID(raw)
		if err != nil {
			return nil, fmt.Errorf("debug.trace: %w", err)
		}
		s.Router.EnableTrace(svc)
	}
	if cfg.Rmnet.Enabled {
		rcfg := channelConfig(cfg.Rmnet)
		rcfg.Stats = rmnetStats
		s.Rmnet = proxy.NewRmnet(rcfg,
			proxy.NewEndpoint("host", cfg.Rmnet.Host),
			proxy.NewEndpoint("baseband", cfg.Rmnet.Baseband),
			s.Router, s.Injector, s.Shared)
	}
	s.Probe = state.NewSuspendProbe(cfg.Transceiver.SuspendPath, config.MustDuration(cfg.Transceiver.WakeSettle), s.Shared)

	if cfg.Admin.Enabled {
		deps := admin.Deps{
			Shared:   s.Shared,
			Tracer:   s.Router,
			Calls:    s.Calls,
			Clients:  s.Clients,
			Injector: s.Injector,
			Messages: s.Messages,
			Audio:    s.Audio,
			Rmnet:    rmnetStats,
			Location: gpsStats,
		}
		if cfg.Admin.Token != "" {
			deps.Auth = admin.StaticToken{Token: cfg.Admin.Token}
		}
		s.Admin = admin.New(cfg.Admin.Addr, cfg.Admin.CorsOrigins, deps)
	}
	if err := registerChannelMetrics(reg, rmnetStats, gpsStats); err != nil {
		return nil, err
	}
	return s, nil
}

func channelConfig(ch config.ChannelConfig) proxy.Config {
	backoff := proxy.DefaultBackoff()
	if d := config.MustDuration(ch.ReopenInitial); d > 0 {
		backoff.InitialDelay = d
	}
	if d := config.MustDuration(ch.ReopenMax); d > 0 {
		backoff.MaxDelay = d
	}
	return proxy.Config{
		PollTimeout: config.MustDuration(ch.PollTimeout),
		Backoff:     backoff,
	}
}

func registerChannelMetrics(reg prometheus.Registerer, rmnet, gps *proxy.Stats) error {
	if rmnet != nil {
		if err := observability.RegisterFrameStats(reg, "rmnet", rmnet.Outcomes); err != nil {
			return err
		}
	}
	if gps != nil {
		if err := observability.RegisterFrameStats(reg, "gps", gps.Outcomes); err != nil {
			return err
		}
	}
	return nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the channel loops, the suspend probe and the admin server until
// ctx is cancelled, then joins them.
func (s *Service) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("component", name).Msg("daemon.component failed")
			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			mu.Unlock()
			if name == "admin" {
				cancel()
			}
		}()
	}

	start("suspend", func(ctx context.Context) error {
		interval := config.MustDuration(s.cfg.Transceiver.PollInterval)
		if interval <= 0 {
			interval = time.Second
		}
		s.Probe.Run(ctx, interval)
		return nil
	})
	if s.Rmnet != nil {
		start("rmnet", s.Rmnet.Run)
	}
	if s.Location != nil {
		start("gps", s.Location.Run)
	}
	if s.Admin != nil {
		start("admin", s.Admin.Serve)
	}
	log.Info().
		Bool("rmnet", s.Rmnet != nil).
		Bool("gps", s.Location != nil).
		Bool("admin", s.Admin != nil).
		Msg("daemon.serve started")

	<-ctx.Done()
	wg.Wait()
	s.Calls.Close()
	log.Info().Msg("daemon.serve stopped")
	return result
}

func (s *Service) handleCommand(from, body string) {
	reply := s.runCommand(strings.ToLower(strings.TrimSpace(body)))
	if reply == "" {
		return
	}
	if err := s.Messages.QueueText(reply); err != nil {
		log.Warn().Err(err).Str("from", from).Msg("daemon.command reply dropped")
	}
}
