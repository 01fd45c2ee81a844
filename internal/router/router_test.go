package router

import (
	"context"
	"math/rand"
	"testing"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/state"
	"github.com/danmuck/qmuxd/internal/testutil/testlog"
)

type fakeMessaging struct {
	message, indication, cb, reroute bool
	calls                            []string
}

func (f *fakeMessaging) CheckWMSMessage(Source, []byte) bool {
	f.calls = append(f.calls, "message")
	return f.message
}

func (f *fakeMessaging) CheckWMSIndication([]byte) bool {
	f.calls = append(f.calls, "indication")
	return f.indication
}

func (f *fakeMessaging) CheckCBMessage([]byte) bool {
	f.calls = append(f.calls, "cb")
	return f.cb
}

func (f *fakeMessaging) NeedsRerouting([]byte) bool {
	f.calls = append(f.calls, "reroute")
	return f.reroute
}

type fakeTracker struct{ seen []Source }

func (f *fakeTracker) Track(src Source, _ []byte) { f.seen = append(f.seen, src) }

type counter struct{ n int }

func (c *counter) CountOther() { c.n++ }

type nopAudio struct{}

func (nopAudio) StartSession(call.Mode) error { return nil }

func (nopAudio) StopSession() error { return nil }

func (nopAudio) PlayAlertingTone(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (nopAudio) Record(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestShortFramesAreEmpty(t *testing.T) {
	testlog.Start(t)
	r := New(Deps{})
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < frame.MinControlFrame; n++ {
		for i := 0; i < 16; i++ {
			buf := make([]byte, n)
			rng.Read(buf)
			for _, src := range []Source{SourceHost, SourceBaseband} {
				if got := r.Classify(src, buf); got != Empty {
					t.Fatalf("len=%d src=%v got=%v", n, src, got)
				}
			}
		}
	}
}

func TestNASSignalInfoBypassedDuringSimulation(t *testing.T) {
	testlog.Start(t)
	shared := &state.Shared{}
	r := New(Deps{Shared: shared})
	req := frame.NewRequest(protocol.ServiceNAS, 1, 9, protocol.NASGetSignalInfo).Bytes()
	other := frame.NewRequest(protocol.ServiceNAS, 1, 9, protocol.NASGetSystemInfo).Bytes()

	if got := r.Classify(SourceHost, req); got != PassThrough {
		t.Fatalf("simulation off got=%v", got)
	}
	shared.SetCallSimulation(true)
	if got := r.Classify(SourceHost, req); got != Bypass {
		t.Fatalf("simulation on got=%v", got)
	}
	if got := r.Classify(SourceHost, other); got != PassThrough {
		t.Fatalf("other nas message got=%v", got)
	}
}

func TestWMSRuleOrder(t *testing.T) {
	testlog.Start(t)
	buf := frame.NewIndication(protocol.ServiceWMS, 1, protocol.WMSEventReport).AddU8(0x10, 0).Bytes()
	cases := []struct {
		name  string
		m     fakeMessaging
		src   Source
		want  Action
		calls int
	}{
		{"none", fakeMessaging{}, SourceBaseband, ForcedPassThrough, 3},
		{"message", fakeMessaging{message: true, cb: true}, SourceBaseband, Bypass, 1},
		{"indication", fakeMessaging{indication: true, reroute: true}, SourceHost, ForcedPassThrough, 2},
		{"cb", fakeMessaging{cb: true, reroute: true}, SourceHost, ForcedPassThrough, 3},
		{"reroute host", fakeMessaging{reroute: true}, SourceHost, Bypass, 4},
		{"reroute baseband", fakeMessaging{reroute: true}, SourceBaseband, ForcedPassThrough, 3},
	}
	for _, tc := range cases {
		m := tc.m
		r := New(Deps{Messaging: &m})
		if got := r.Classify(tc.src, buf); got != tc.want {
			t.Fatalf("%s: got=%v want=%v", tc.name, got, tc.want)
		}
		if len(m.calls) != tc.calls {
			t.Fatalf("%s: checks=%v", tc.name, m.calls)
		}
	}
}

func TestControlRegistrationGoesToTracker(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTracker{}
	r := New(Deps{Tracker: tr})
	alloc := frame.NewRequest(protocol.ServiceControl, 0, 1, protocol.CtlClientRegisterReq).AddU8(0x01, 9).Bytes()
	ctlSync := frame.NewRequest(protocol.ServiceControl, 0, 2, protocol.CtlSync).Bytes()

	if got := r.Classify(SourceHost, alloc); got != PassThrough {
		t.Fatalf("got=%v", got)
	}
	if got := r.Classify(SourceBaseband, ctlSync); got != PassThrough {
		t.Fatalf("got=%v", got)
	}
	if len(tr.seen) != 1 || tr.seen[0] != SourceHost {
		t.Fatalf("tracker calls=%v", tr.seen)
	}
}

func TestVoiceOutOfRangeSlotIsForced(t *testing.T) {
	testlog.Start(t)
	m := call.NewMachine(call.Config{}, nopAudio{})
	defer m.Close()
	r := New(Deps{Voice: m})

	bad := frame.NewIndication(protocol.ServiceVoice, 1, protocol.VoiceAllCallStatusInd).
		Add(call.TLVCallInformation, call.CallInformationValue(call.CallRecord{ID: call.MaxActiveCalls, State: call.StateEstablished})).
		Bytes()
	if got := r.Classify(SourceBaseband, bad); got != ForcedPassThrough {
		t.Fatalf("got=%v", got)
	}
	if len(m.Snapshot()) != 0 {
		t.Fatalf("slot table mutated")
	}
	good := frame.NewIndication(protocol.ServiceVoice, 1, protocol.VoiceAllCallStatusInd).
		Add(call.TLVCallInformation, call.CallInformationValue(call.CallRecord{ID: 1, State: call.StateRinging})).
		Bytes()
	if got := r.Classify(SourceBaseband, good); got != PassThrough {
		t.Fatalf("got=%v", got)
	}
}

func TestLocationCountsOtherAndUnknownPasses(t *testing.T) {
	testlog.Start(t)
	c := &counter{}
	r := New(Deps{Location: c})
	loc := frame.NewIndication(protocol.ServiceLOC, 1, protocol.LOCEventNMEA).Bytes()
	if got := r.Classify(SourceBaseband, loc); got != PassThrough || c.n != 1 {
		t.Fatalf("got=%v other=%d", got, c.n)
	}
	unknown := frame.NewIndication(protocol.ServiceID(0x77), 1, 0x0001).Bytes()
	if got := r.Classify(SourceBaseband, unknown); got != PassThrough {
		t.Fatalf("unknown service got=%v", got)
	}
}

func TestTraceDoesNotChangeVerdict(t *testing.T) {
	testlog.Start(t)
	shared := &state.Shared{}
	shared.SetCallSimulation(true)
	r := New(Deps{Shared: shared})
	req := frame.NewRequest(protocol.ServiceNAS, 1, 9, protocol.NASGetSignalInfo).Bytes()

	r.EnableTrace(protocol.ServiceNAS)
	if got := r.Traced(); len(got) != 1 || got[0] != protocol.ServiceNAS {
		t.Fatalf("traced=%v", got)
	}
	if got := r.Classify(SourceHost, req); got != Bypass {
		t.Fatalf("got=%v", got)
	}
	r.DisableAllTrace()
	if len(r.Traced()) != 0 {
		t.Fatalf("trace not cleared")
	}
}
