// Package admin serves the daemon's HTTP control surface: health, stats,
// call and client snapshots, and the debug switches.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/qmuxd/internal/audio"
	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/proxy"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/danmuck/qmuxd/internal/tracking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Tracer toggles per-service frame dumps.
type Tracer interface {
	EnableTrace(protocol.ServiceID)
	DisableTrace(protocol.ServiceID)
	DisableAllTrace()
	Traced() []protocol.ServiceID
}

type Calls interface {
	Snapshot() []call.Slot
	Status() call.Status
	RecordNextCall(bool)
}

type Clients interface {
	Snapshot() []tracking.ServiceClients
}

type Injector interface {
	RequestCall(number string)
	EndCall()
	CallPending() bool
	RequestCB(inject.CBMode)
	StopCB()
	CBMode() inject.CBMode
}

type Messages interface {
	QueueText(body string) error
	QueueLen() int
	NotifyStored(index uint32)
	MarkStuck(indices ...uint32)
}

type AudioStats interface {
	Stats() audio.Stats
}

// Deps are the components the admin surface reads and pokes. Nil members
// disable their routes' effects; reads return empty values.
type Deps struct {
	Shared   *state.Shared
	Tracer   Tracer
	Calls    Calls
	Clients  Clients
	Injector Injector
	Messages Messages
	Audio    AudioStats
	Rmnet    *proxy.Stats
	Location *proxy.Stats
	// Auth guards the mutating routes when set.
	Auth Validator
}

type Server struct {
	Addr    string
	Started time.Time

	deps   Deps
	router *gin.Engine
}

func New(addr string, corsOrigins []string, deps Deps) *Server {
	observability.RegisterMetrics()
	if deps.Shared == nil {
		deps.Shared = &state.Shared{}
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("admin"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		deps:    deps,
		router:  r,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("admin.serve listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin.serve shutdown")
		return err
	}
	log.Info().Msg("admin.serve stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
