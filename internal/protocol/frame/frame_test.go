package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/qmuxd/internal/protocol"
)

func TestBuilderDecodeRoundTrip(t *testing.T) {
	b := NewIndication(protocol.ServiceVoice, 2, protocol.VoiceAllCallStatusInd).
		Add(0x01, []byte{1, 1, 0x03, 0, 0x02, 0x02, 0, 0}).
		AddU16(0x10, 0x1234)
	buf := b.Bytes()

	f, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.QMUX.Marker != Marker || int(f.QMUX.Length)+1 != len(buf) {
		t.Fatalf("bad qmux header: %+v len=%d", f.QMUX, len(buf))
	}
	if f.QMUX.ControlFlag != QMUXFromService || f.QMUX.Service != protocol.ServiceVoice || f.QMUX.ClientID != 2 {
		t.Fatalf("bad qmux fields: %+v", f.QMUX)
	}
	if f.QMI.Control || f.QMI.CtlFlags != FlagIndication || f.QMI.MessageID != protocol.VoiceAllCallStatusInd {
		t.Fatalf("bad qmi header: %+v", f.QMI)
	}
	if f.TLVOffset != MinServiceFrame || int(f.QMI.Length) != len(f.TLVs) {
		t.Fatalf("tlv region mismatch: off=%d qmiLen=%d tlvs=%d", f.TLVOffset, f.QMI.Length, len(f.TLVs))
	}
}

func TestBuilderControlFrameLayout(t *testing.T) {
	buf := NewRequest(protocol.ServiceControl, 0, 7, protocol.CtlClientRegisterReq).
		AddU8(0x01, uint8(protocol.ServiceVoice)).
		Bytes()
	want := []byte{
		0x01, 0x0f, 0x00, 0x00, 0x00, 0x00, // qmux
		0x00, 0x07, 0x22, 0x00, 0x04, 0x00, // ctl qmi
		0x01, 0x01, 0x00, 0x09, // tlv
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("control frame mismatch:\n got=% x\nwant=% x", buf, want)
	}
	if got := MessageIDOf(buf); got != protocol.CtlClientRegisterReq {
		t.Fatalf("message id got=0x%04x", got)
	}
	v, ok := FindTLV(buf, 0x01)
	if !ok || v.Offset != MinControlFrame || v.Value[0] != 0x09 {
		t.Fatalf("FindTLV got=%+v ok=%v", v, ok)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	for _, n := range []int{0, 1, MinControlFrame - 1} {
		_, err := Decode(make([]byte, n))
		if !errors.Is(err, ErrTooShort) || !errors.Is(err, protocol.ErrFraming) {
			t.Fatalf("len=%d expected ErrTooShort, got %v", n, err)
		}
	}
	if got := MessageIDOf([]byte{1, 2, 3}); got != protocol.InvalidMessageID {
		t.Fatalf("expected invalid id, got 0x%04x", got)
	}
}

func TestDecodeServiceHeaderNeedsThirteenBytes(t *testing.T) {
	buf := []byte{0x01, 0x0b, 0x00, 0x80, 0x03, 0x01, 0x02, 0x01, 0x00, 0x4f, 0x00, 0x00}
	if _, err := Decode(buf); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort for 12-byte service frame, got %v", err)
	}
}

func TestDecodeQMUXValidation(t *testing.T) {
	buf := NewRequest(protocol.ServiceNAS, 1, 1, protocol.NASGetSignalInfo).Bytes()

	bad := append([]byte(nil), buf...)
	bad[0] = 0x02
	if _, err := DecodeQMUX(bad); !errors.Is(err, ErrBadMarker) {
		t.Fatalf("expected ErrBadMarker, got %v", err)
	}

	long := append(append([]byte(nil), buf...), 0x00)
	if _, err := DecodeQMUX(long); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestTLVRegionClampsOverlongQMILength(t *testing.T) {
	buf := NewIndication(protocol.ServiceWMS, 1, protocol.WMSEventReport).AddU8(0x10, 1).Bytes()
	buf[11] = 0xff // qmi length low byte
	region, off := TLVRegion(buf)
	if off != MinServiceFrame || len(region) != len(buf)-MinServiceFrame {
		t.Fatalf("region not clamped: off=%d len=%d", off, len(region))
	}
}

func TestDumpIncludesHeadersAndTLVs(t *testing.T) {
	buf := NewIndication(protocol.ServiceNAS, 3, protocol.NASSignalInfo).AddU8(0x11, 0xaa).Bytes()
	out := Dump(buf)
	for _, want := range []string{"svc=NAS", "SignalInfo", "tlv 0x11", "aa"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q: %s", want, out)
		}
	}
	if !strings.Contains(Dump([]byte{1, 2}), "short frame") {
		t.Fatalf("expected short frame dump")
	}
}
