package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/danmuck/qmuxd/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

var testCfg = Config{
	PollTimeout: 20 * time.Millisecond,
	Backoff:     BackoffConfig{InitialDelay: time.Hour},
}

// socketEndpoint returns an endpoint backed by one end of a seqpacket pair
// and the descriptor of the other end.
func socketEndpoint(t *testing.T, name string) (*Endpoint, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	ep := &Endpoint{Name: name, fd: fds[0]}
	t.Cleanup(func() {
		_ = ep.Close()
		_ = unix.Close(fds[1])
	})
	return ep, fds[1]
}

func send(t *testing.T, fd int, b []byte) {
	t.Helper()
	if _, err := unix.Write(fd, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, fd int) ([]byte, bool) {
	t.Helper()
	ready, err := pollFds(50*time.Millisecond, fd)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !ready[0] {
		return nil, false
	}
	buf := make([]byte, frame.MaxPacketSize)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n], true
}

type fakeInjector struct {
	pending bool
	ticks   int
}

func (f *fakeInjector) Pending() bool { return f.pending }

func (f *fakeInjector) Tick(_ context.Context, host, _ io.Writer) (inject.Trigger, error) {
	f.ticks++
	f.pending = false
	_, err := host.Write(frame.NewIndication(protocol.ServiceWMS, 1, protocol.WMSEventReport).Bytes())
	return inject.TriggerInternalQueue, err
}

func newTestRmnet(t *testing.T, inj Injector) (*Rmnet, *state.Shared, int, int) {
	t.Helper()
	shared := &state.Shared{}
	host, hostPeer := socketEndpoint(t, "host")
	bb, bbPeer := socketEndpoint(t, "baseband")
	r := NewRmnet(testCfg, host, bb, router.New(router.Deps{Shared: shared}), inj, shared)
	return r, shared, hostPeer, bbPeer
}

func TestRmnetPassThroughBothWays(t *testing.T) {
	testlog.Start(t)
	r, _, hostPeer, bbPeer := newTestRmnet(t, nil)
	ctx := context.Background()

	ind := frame.NewIndication(protocol.ServiceNAS, 2, protocol.NASSystemInfo).AddU8(0x10, 1).Bytes()
	send(t, bbPeer, ind)
	if err := r.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got, ok := receive(t, hostPeer); !ok || !bytes.Equal(got, ind) {
		t.Fatalf("host did not receive the indication")
	}

	req := frame.NewRequest(protocol.ServiceNAS, 2, 5, protocol.NASGetSystemInfo).Bytes()
	send(t, hostPeer, req)
	if err := r.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got, ok := receive(t, bbPeer); !ok || !bytes.Equal(got, req) {
		t.Fatalf("baseband did not receive the request")
	}
	if s := r.Stats().Snapshot(); s.Allowed != 2 || s.Failed != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRmnetSuspendedDiscardsButForcedWrites(t *testing.T) {
	testlog.Start(t)
	r, shared, hostPeer, bbPeer := newTestRmnet(t, nil)
	shared.SetTransceiverSuspended(true)
	ctx := context.Background()

	send(t, bbPeer, frame.NewIndication(protocol.ServiceNAS, 2, protocol.NASSystemInfo).Bytes())
	if err := r.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, ok := receive(t, hostPeer); ok {
		t.Fatalf("suspended pass-through must be dropped")
	}

	// No messaging collaborator: WMS is forced through.
	wms := frame.NewIndication(protocol.ServiceWMS, 2, protocol.WMSEventReport).AddU8(0x10, 0).Bytes()
	send(t, bbPeer, wms)
	if err := r.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got, ok := receive(t, hostPeer); !ok || !bytes.Equal(got, wms) {
		t.Fatalf("forced frame must reach the host")
	}
	if s := r.Stats().Snapshot(); s.Discarded != 1 || s.Allowed != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRmnetBypassDuringCallSimulation(t *testing.T) {
	testlog.Start(t)
	r, shared, hostPeer, bbPeer := newTestRmnet(t, nil)
	shared.SetCallSimulation(true)

	send(t, hostPeer, frame.NewRequest(protocol.ServiceNAS, 2, 6, protocol.NASGetSignalInfo).Bytes())
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, ok := receive(t, bbPeer); ok {
		t.Fatalf("bypassed request must not reach the baseband")
	}
	if s := r.Stats().Snapshot(); s.Bypassed != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestRmnetEmptyReadClosesEndpoint(t *testing.T) {
	testlog.Start(t)
	r, _, _, bbPeer := newTestRmnet(t, nil)
	if err := unix.Shutdown(bbPeer, unix.SHUT_WR); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if r.baseband.IsOpen() {
		t.Fatalf("baseband must be closed after an empty read")
	}
	if s := r.Stats().Snapshot(); s.Empty != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}

	// No device path to reopen: the next step backs off.
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if r.baseband.attempts != 1 || r.baseband.retryAt.IsZero() {
		t.Fatalf("expected a recorded reopen failure")
	}
}

func TestRmnetIdleStepTicksInjector(t *testing.T) {
	testlog.Start(t)
	inj := &fakeInjector{pending: true}
	r, _, hostPeer, _ := newTestRmnet(t, inj)
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if inj.ticks != 1 {
		t.Fatalf("ticks=%d", inj.ticks)
	}
	if got, ok := receive(t, hostPeer); !ok || frame.ServiceOf(got) != protocol.ServiceWMS {
		t.Fatalf("host did not receive the injected frame")
	}
	if err := r.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if inj.ticks != 1 {
		t.Fatalf("idle injector must not tick")
	}
}

func TestRmnetRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	r, _, _, _ := newTestRmnet(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestLocationRelayAndSuspendGate(t *testing.T) {
	testlog.Start(t)
	shared := &state.Shared{}
	host, hostPeer := socketEndpoint(t, "gps-host")
	bb, bbPeer := socketEndpoint(t, "gps-baseband")
	l := NewLocation(testCfg, host, bb, shared)
	ctx := context.Background()

	nmea := []byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n")
	send(t, bbPeer, nmea)
	if err := l.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got, ok := receive(t, hostPeer); !ok || !bytes.Equal(got, nmea) {
		t.Fatalf("nmea sentence not relayed")
	}

	shared.SetTransceiverSuspended(true)
	send(t, bbPeer, nmea)
	if err := l.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, ok := receive(t, hostPeer); ok {
		t.Fatalf("suspended output must be dropped")
	}
	if s := l.Stats().Snapshot(); s.Allowed != 1 || s.Discarded != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestLocationDoesNotOpenHostWhileSuspended(t *testing.T) {
	testlog.Start(t)
	shared := &state.Shared{}
	shared.SetTransceiverSuspended(true)
	bb, _ := socketEndpoint(t, "gps-baseband")
	host := NewEndpoint("gps-host", "")
	l := NewLocation(testCfg, host, bb, shared)
	if err := l.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if host.attempts != 0 {
		t.Fatalf("host open attempted while suspended")
	}
	shared.SetTransceiverSuspended(false)
	if err := l.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}
	if host.attempts != 1 {
		t.Fatalf("host open should be attempted once resumed")
	}
}

func TestEndpointOpenMissingDevice(t *testing.T) {
	testlog.Start(t)
	e := NewEndpoint("host", "/nonexistent/qmuxd-test-device")
	if err := e.Open(); !errors.Is(err, ErrDeviceIO) {
		t.Fatalf("expected ErrDeviceIO, got %v", err)
	}
	if _, err := e.Write([]byte{1}); !errors.Is(err, ErrDeviceIO) {
		t.Fatalf("write on closed endpoint: %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	got := NextBackoffDelay(cfg, 1, rand.New(rand.NewSource(7)))
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestStatsOutcomesKeys(t *testing.T) {
	testlog.Start(t)
	s := &Stats{}
	s.CountOther()
	s.allowed.Add(3)
	out := s.Outcomes()
	if len(out) != 6 || out["other"] != 1 || out["allowed"] != 3 {
		t.Fatalf("unexpected outcomes %v", out)
	}
}

// dirEndpoint returns an endpoint whose descriptor always polls readable and
// fails every read.
func dirEndpoint(t *testing.T, name string) *Endpoint {
	t.Helper()
	fd, err := unix.Open(t.TempDir(), unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	ep := &Endpoint{Name: name, fd: fd}
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func TestReadErrorCountsFailedAndKeepsDescriptor(t *testing.T) {
	testlog.Start(t)
	shared := &state.Shared{}
	host, _ := socketEndpoint(t, "host")
	bb := dirEndpoint(t, "baseband")
	r := NewRmnet(testCfg, host, bb, router.New(router.Deps{Shared: shared}), nil, shared)

	if err := r.Step(context.Background()); !errors.Is(err, ErrDeviceIO) {
		t.Fatalf("expected ErrDeviceIO, got %v", err)
	}
	if !bb.IsOpen() {
		t.Fatalf("read error must leave the descriptor open")
	}
	if s := r.Stats().Snapshot(); s.Failed != 1 || s.Empty != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}

	gpsHost, _ := socketEndpoint(t, "gps-host")
	gpsBB := dirEndpoint(t, "gps-baseband")
	l := NewLocation(testCfg, gpsHost, gpsBB, shared)
	if err := l.Step(context.Background()); !errors.Is(err, ErrDeviceIO) {
		t.Fatalf("expected ErrDeviceIO, got %v", err)
	}
	if !gpsBB.IsOpen() {
		t.Fatalf("location read error must leave the descriptor open")
	}
	if s := l.Stats().Snapshot(); s.Failed != 1 {
		t.Fatalf("unexpected location stats %+v", s)
	}
}
