package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/qmuxd/internal/audio"
	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/inject"
	"github.com/danmuck/qmuxd/internal/messaging"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/proxy"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/danmuck/qmuxd/internal/testutil/testlog"
	"github.com/danmuck/qmuxd/internal/tracking"
	"github.com/gin-gonic/gin"
)

type fixture struct {
	srv      *Server
	shared   *state.Shared
	router   *router.Router
	machine  *call.Machine
	msgs     *messaging.Service
	injector *inject.Injector
	rmnet    *proxy.Stats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	shared := &state.Shared{}
	sink := audio.NewSink(audio.Config{})
	machine := call.NewMachine(call.Config{}, sink)
	t.Cleanup(machine.Close)
	msgs := messaging.New(messaging.Config{QueueSize: 1}, nil)
	tracker := tracking.New()
	r := router.New(router.Deps{Shared: shared, Messaging: msgs, Tracker: tracker, Voice: machine})
	inj := inject.New(inject.Config{}, msgs, shared, tracker)
	rmnet := &proxy.Stats{}
	srv := New(":0", nil, Deps{
		Shared:   shared,
		Tracer:   r,
		Calls:    machine,
		Clients:  tracker,
		Injector: inj,
		Messages: msgs,
		Audio:    sink,
		Rmnet:    rmnet,
		Location: &proxy.Stats{},
	})
	return &fixture{srv: srv, shared: shared, router: r, machine: machine, msgs: msgs, injector: inj, rmnet: rmnet}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	f.srv.HTTPRouter().ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthAndStats(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.shared.SetTransceiverSuspended(true)
	f.rmnet.CountOther()

	rr, body := f.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["suspended"] != true {
		t.Fatalf("health: %d %v", rr.Code, body)
	}

	rr, body = f.do(t, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: %d", rr.Code)
	}
	rm, ok := body["rmnet"].(map[string]any)
	if !ok || rm["other"] != float64(1) {
		t.Fatalf("unexpected rmnet stats %v", body["rmnet"])
	}
	if _, ok := body["audio"]; !ok {
		t.Fatalf("missing audio stats")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")
	rr, _ := f.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "qmuxd_http_requests_total") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestCallsReflectMachine(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	ind := frame.NewIndication(protocol.ServiceVoice, 1, protocol.VoiceAllCallStatusInd).
		Add(call.TLVCallInformation, call.CallInformationValue(call.CallRecord{
			ID: 2, State: call.StateRinging, Direction: call.DirectionIncoming, ModeCode: call.ModeCodeLTE,
		})).
		Add(call.TLVRemotePartyNumber, call.RemoteNumbersValue(call.RemoteNumber{ID: 2, Number: []byte("+15550142")})).
		Bytes()
	if err := f.machine.HandleFrame(ind); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rr, body := f.do(t, http.MethodGet, "/calls", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("calls: %d", rr.Code)
	}
	calls, _ := body["calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("calls=%v", body["calls"])
	}
	c := calls[0].(map[string]any)
	if c["state"] != "ringing" || c["mode"] != "volte" || c["number"] != "+15550142" || c["direction"] != "incoming" {
		t.Fatalf("unexpected call %v", c)
	}
}

func TestTraceToggle(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	rr, body := f.do(t, http.MethodPost, "/debug/service/wms", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("enable: %d %v", rr.Code, body)
	}
	if got := f.router.Traced(); len(got) != 1 || got[0] != protocol.ServiceWMS {
		t.Fatalf("traced=%v", got)
	}
	if rr, _ := f.do(t, http.MethodPost, "/debug/service/bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rr.Code)
	}
	f.do(t, http.MethodPost, "/debug/service/9", "")
	f.do(t, http.MethodDelete, "/debug/service/wms", "")
	if got := f.router.Traced(); len(got) != 1 || got[0] != protocol.ServiceVoice {
		t.Fatalf("traced=%v", got)
	}
	if rr, _ := f.do(t, http.MethodDelete, "/debug/service", ""); rr.Code != http.StatusOK || len(f.router.Traced()) != 0 {
		t.Fatalf("disable all failed")
	}
}

func TestSimulateCallConflicts(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if rr, body := f.do(t, http.MethodPost, "/simulate/call", `{"number":"+15550177"}`); rr.Code != http.StatusAccepted {
		t.Fatalf("simulate: %d %v", rr.Code, body)
	}
	if !f.injector.CallPending() {
		t.Fatalf("call should be pending")
	}
	if rr, _ := f.do(t, http.MethodPost, "/simulate/call", ""); rr.Code != http.StatusConflict {
		t.Fatalf("second request: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodDelete, "/simulate/call", ""); rr.Code != http.StatusOK || f.injector.CallPending() {
		t.Fatalf("end call failed")
	}
}

func TestCBModes(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if rr, _ := f.do(t, http.MethodPost, "/debug/cb/stream", ""); rr.Code != http.StatusAccepted || f.injector.CBMode() != inject.CBStream {
		t.Fatalf("stream: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodPost, "/debug/cb/off", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("off via post must be rejected: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodDelete, "/debug/cb", ""); rr.Code != http.StatusOK || f.injector.CBMode() != inject.CBOff {
		t.Fatalf("stop: %d", rr.Code)
	}
}

func TestQueueMessageFullIs503(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if rr, body := f.do(t, http.MethodPost, "/messages", `{"text":"hello"}`); rr.Code != http.StatusAccepted || body["queued"] != float64(1) {
		t.Fatalf("queue: %d %v", rr.Code, body)
	}
	if rr, _ := f.do(t, http.MethodPost, "/messages", `{"text":"again"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodPost, "/messages", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing text: %d", rr.Code)
	}
}

func TestStoredAndStuckMessages(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if rr, _ := f.do(t, http.MethodPost, "/messages/notify/4", ""); rr.Code != http.StatusAccepted || f.msgs.Source() != messaging.SourceExternal {
		t.Fatalf("notify: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodPost, "/messages/stuck/x", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad index: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodPost, "/messages/stuck/9", ""); rr.Code != http.StatusAccepted || !f.msgs.StuckPending() {
		t.Fatalf("stuck: %d", rr.Code)
	}
}

func TestRecordNext(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.do(t, http.MethodPost, "/record/next", "")
	if !f.machine.Status().RecordNext {
		t.Fatalf("record next not set")
	}
	f.do(t, http.MethodDelete, "/record/next", "")
	if f.machine.Status().RecordNext {
		t.Fatalf("record next not cleared")
	}
}

func TestUnconfiguredDepsReturn503(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	srv := New(":0", nil, Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/simulate/call"},
		{http.MethodPost, "/debug/service/wms"},
		{http.MethodPost, "/record/next"},
	} {
		rr := httptest.NewRecorder()
		srv.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: %d", tc.method, tc.path, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	srv.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/calls", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("calls without machine: %d", rr.Code)
	}
}
