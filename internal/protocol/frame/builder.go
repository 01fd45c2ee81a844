package frame

import (
	"encoding/binary"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/tlv"
)

// Builder assembles one QMUX frame. Headers are written by Bytes once the TLV
// payload is known.
type Builder struct {
	Service       protocol.ServiceID
	ClientID      uint8
	FromService   bool
	Flags         uint8
	TransactionID uint16
	MessageID     uint16

	tlvs []byte
}

// NewIndication returns a builder for a service-originated indication.
func NewIndication(service protocol.ServiceID, clientID uint8, msgID uint16) *Builder {
	flags := FlagIndication
	if service == protocol.ServiceControl {
		flags = CtlFlagIndication
	}
	return &Builder{
		Service:     service,
		ClientID:    clientID,
		FromService: true,
		Flags:       flags,
		MessageID:   msgID,
	}
}

// NewRequest returns a builder for a control-point request.
func NewRequest(service protocol.ServiceID, clientID uint8, txid, msgID uint16) *Builder {
	return &Builder{
		Service:       service,
		ClientID:      clientID,
		Flags:         FlagRequest,
		TransactionID: txid,
		MessageID:     msgID,
	}
}

// NewResponse returns a builder for a service-originated response to txid.
func NewResponse(service protocol.ServiceID, clientID uint8, txid, msgID uint16) *Builder {
	flags := FlagResponse
	if service == protocol.ServiceControl {
		flags = CtlFlagResponse
	}
	return &Builder{
		Service:       service,
		ClientID:      clientID,
		FromService:   true,
		Flags:         flags,
		TransactionID: txid,
		MessageID:     msgID,
	}
}

func (b *Builder) Add(id uint8, value []byte) *Builder {
	b.tlvs = tlv.Append(b.tlvs, id, value)
	return b
}

func (b *Builder) AddU8(id uint8, v uint8) *Builder {
	return b.Add(id, []byte{v})
}

func (b *Builder) AddU16(id uint8, v uint16) *Builder {
	return b.Add(id, binary.LittleEndian.AppendUint16(nil, v))
}

func (b *Builder) AddU32(id uint8, v uint32) *Builder {
	return b.Add(id, binary.LittleEndian.AppendUint32(nil, v))
}

// Bytes encodes the frame. QMUX length is total-1 and QMI length is the TLV
// byte count.
func (b *Builder) Bytes() []byte {
	control := b.Service == protocol.ServiceControl
	qmiLen := ServiceHeaderLen
	if control {
		qmiLen = ControlHeaderLen
	}
	total := QMUXHeaderLen + qmiLen + len(b.tlvs)
	out := make([]byte, 0, total)

	out = append(out, Marker)
	out = binary.LittleEndian.AppendUint16(out, uint16(total-1))
	if b.FromService {
		out = append(out, QMUXFromService)
	} else {
		out = append(out, QMUXFromControlPoint)
	}
	out = append(out, uint8(b.Service), b.ClientID)

	out = append(out, b.Flags)
	if control {
		out = append(out, uint8(b.TransactionID))
	} else {
		out = binary.LittleEndian.AppendUint16(out, b.TransactionID)
	}
	out = binary.LittleEndian.AppendUint16(out, b.MessageID)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(b.tlvs)))
	return append(out, b.tlvs...)
}
