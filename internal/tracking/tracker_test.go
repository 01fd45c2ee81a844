package tracking

import (
	"testing"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/danmuck/qmuxd/internal/testutil/testlog"
)

func allocResponse(txid uint16, svc protocol.ServiceID, cid uint8, result uint16) []byte {
	return frame.NewResponse(protocol.ServiceControl, 0, txid, protocol.CtlClientRegisterReq).
		Add(tlvResult, []byte{byte(result), 0, 0, 0}).
		Add(tlvClient, []byte{uint8(svc), cid}).
		Bytes()
}

func TestAllocateAndRelease(t *testing.T) {
	testlog.Start(t)
	tr := New()

	req := frame.NewRequest(protocol.ServiceControl, 0, 4, protocol.CtlClientRegisterReq).AddU8(tlvClient, uint8(protocol.ServiceWMS)).Bytes()
	tr.Track(router.SourceHost, req)
	tr.Track(router.SourceBaseband, allocResponse(4, protocol.ServiceWMS, 2, 0))
	tr.Track(router.SourceBaseband, allocResponse(5, protocol.ServiceWMS, 3, 0))
	tr.Track(router.SourceBaseband, allocResponse(6, protocol.ServiceVoice, 1, 0))
	tr.Track(router.SourceBaseband, allocResponse(7, protocol.ServiceNAS, 9, 1))

	if tr.Count(protocol.ServiceWMS) != 2 || tr.Count(protocol.ServiceVoice) != 1 || tr.Count(protocol.ServiceNAS) != 0 {
		t.Fatalf("unexpected counts: %+v", tr.Snapshot())
	}

	rel := frame.NewResponse(protocol.ServiceControl, 0, 8, protocol.CtlClientReleaseReq).
		Add(tlvResult, []byte{0, 0, 0, 0}).
		Add(tlvClient, []byte{uint8(protocol.ServiceWMS), 2}).
		Bytes()
	tr.Track(router.SourceBaseband, rel)

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].Service != "WMS" || len(snap[0].Clients) != 1 || snap[0].Clients[0] != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestTrackIgnoresMalformed(t *testing.T) {
	testlog.Start(t)
	tr := New()
	tr.Track(router.SourceBaseband, []byte{1, 2, 3})
	noTLV := frame.NewResponse(protocol.ServiceControl, 0, 1, protocol.CtlClientRegisterReq).Bytes()
	tr.Track(router.SourceBaseband, noTLV)
	if len(tr.Snapshot()) != 0 {
		t.Fatalf("malformed frames must not register clients")
	}
}

func TestClientForReturnsLowestID(t *testing.T) {
	testlog.Start(t)
	tr := New()
	if _, ok := tr.ClientFor(protocol.ServiceVoice); ok {
		t.Fatalf("no clients yet")
	}
	tr.Track(router.SourceBaseband, allocResponse(1, protocol.ServiceVoice, 7, 0))
	tr.Track(router.SourceBaseband, allocResponse(2, protocol.ServiceVoice, 4, 0))
	if cid, ok := tr.ClientFor(protocol.ServiceVoice); !ok || cid != 4 {
		t.Fatalf("cid=%d ok=%v", cid, ok)
	}
}
