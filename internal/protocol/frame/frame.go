package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/tlv"
)

const (
	Marker byte = 0x01

	QMUXHeaderLen    = 6
	ControlHeaderLen = 6
	ServiceHeaderLen = 7

	// MinControlFrame is the smallest buffer that can be inspected at all.
	MinControlFrame = QMUXHeaderLen + ControlHeaderLen
	MinServiceFrame = QMUXHeaderLen + ServiceHeaderLen

	MaxPacketSize = 4096
)

// QMUX control flag: who sent the frame.
const (
	QMUXFromControlPoint uint8 = 0x00
	QMUXFromService      uint8 = 0x80
)

// QMI message type flags. Control and service channels use different bits.
const (
	CtlFlagRequest    uint8 = 0x00
	CtlFlagResponse   uint8 = 0x01
	CtlFlagIndication uint8 = 0x02

	FlagRequest    uint8 = 0x00
	FlagResponse   uint8 = 0x02
	FlagIndication uint8 = 0x04
)

var (
	ErrTooShort       = fmt.Errorf("%w: frame shorter than minimum header", protocol.ErrFraming)
	ErrBadMarker      = fmt.Errorf("%w: bad qmux marker", protocol.ErrFraming)
	ErrLengthMismatch = fmt.Errorf("%w: qmux length does not match buffer", protocol.ErrFraming)
)

// QMUXHeader is the outer 6-byte header.
type QMUXHeader struct {
	Marker      uint8
	Length      uint16 // total frame length minus the marker byte
	ControlFlag uint8
	Service     protocol.ServiceID
	ClientID    uint8
}

// QMIHeader is the inner header. Control headers carry an 8-bit transaction id.
type QMIHeader struct {
	Control       bool
	CtlFlags      uint8
	TransactionID uint16
	MessageID     uint16
	Length        uint16
}

// Len is the encoded header size.
func (h QMIHeader) Len() int {
	if h.Control {
		return ControlHeaderLen
	}
	return ServiceHeaderLen
}

// Frame is a decoded view over a caller-owned buffer.
type Frame struct {
	QMUX QMUXHeader
	QMI  QMIHeader
	// TLVs is the TLV region, bounded by both the declared QMI length and the buffer.
	TLVs []byte
	// TLVOffset is the index of the first TLV in the original buffer.
	TLVOffset int
}

// DecodeQMUX decodes and validates the outer header.
func DecodeQMUX(b []byte) (QMUXHeader, error) {
	if len(b) < MinControlFrame {
		return QMUXHeader{}, ErrTooShort
	}
	h := QMUXHeader{
		Marker:      b[0],
		Length:      binary.LittleEndian.Uint16(b[1:3]),
		ControlFlag: b[3],
		Service:     protocol.ServiceID(b[4]),
		ClientID:    b[5],
	}
	if h.Marker != Marker {
		return QMUXHeader{}, fmt.Errorf("%w: 0x%02x", ErrBadMarker, h.Marker)
	}
	if int(h.Length)+1 != len(b) {
		return QMUXHeader{}, fmt.Errorf("%w: declared=%d actual=%d", ErrLengthMismatch, int(h.Length)+1, len(b))
	}
	return h, nil
}

// DecodeQMI decodes the inner header for the given service. It does not
// validate the outer header.
func DecodeQMI(b []byte, service protocol.ServiceID) (QMIHeader, error) {
	if len(b) < MinControlFrame {
		return QMIHeader{}, ErrTooShort
	}
	q := b[QMUXHeaderLen:]
	if service == protocol.ServiceControl {
		return QMIHeader{
			Control:       true,
			CtlFlags:      q[0],
			TransactionID: uint16(q[1]),
			MessageID:     binary.LittleEndian.Uint16(q[2:4]),
			Length:        binary.LittleEndian.Uint16(q[4:6]),
		}, nil
	}
	if len(b) < MinServiceFrame {
		return QMIHeader{}, ErrTooShort
	}
	return QMIHeader{
		CtlFlags:      q[0],
		TransactionID: binary.LittleEndian.Uint16(q[1:3]),
		MessageID:     binary.LittleEndian.Uint16(q[3:5]),
		Length:        binary.LittleEndian.Uint16(q[5:7]),
	}, nil
}

// Decode decodes both headers and bounds the TLV region. A QMUX length that
// disagrees with the buffer is an error; a QMI length that overruns the
// buffer is clamped.
func Decode(b []byte) (Frame, error) {
	mux, err := DecodeQMUX(b)
	if err != nil {
		return Frame{}, err
	}
	qmi, err := DecodeQMI(b, mux.Service)
	if err != nil {
		return Frame{}, err
	}
	off := QMUXHeaderLen + qmi.Len()
	end := off + int(qmi.Length)
	if end > len(b) {
		end = len(b)
	}
	return Frame{QMUX: mux, QMI: qmi, TLVs: b[off:end:end], TLVOffset: off}, nil
}

// ServiceOf returns the service byte without validating the frame.
func ServiceOf(b []byte) protocol.ServiceID {
	if len(b) < QMUXHeaderLen {
		return protocol.ServiceUnknown
	}
	return protocol.ServiceID(b[4])
}

// MessageIDOf returns the QMI message id, or protocol.InvalidMessageID when
// the buffer is too short to hold one.
func MessageIDOf(b []byte) uint16 {
	h, err := DecodeQMI(b, ServiceOf(b))
	if err != nil {
		return protocol.InvalidMessageID
	}
	return h.MessageID
}

// TLVRegion returns the TLV bytes of b and their offset, using the same
// bounds as Decode but without requiring a valid QMUX length.
func TLVRegion(b []byte) ([]byte, int) {
	h, err := DecodeQMI(b, ServiceOf(b))
	if err != nil {
		return nil, 0
	}
	off := QMUXHeaderLen + h.Len()
	end := off + int(h.Length)
	if end > len(b) {
		end = len(b)
	}
	return b[off:end:end], off
}

// FindTLV locates a TLV in a whole frame. The returned Offset is relative to b.
func FindTLV(b []byte, id uint8) (tlv.View, bool) {
	region, off := TLVRegion(b)
	v, ok := tlv.Find(region, id)
	if !ok {
		return tlv.View{}, false
	}
	v.Offset += off
	return v, true
}
