package messaging

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/protocol/tlv"
)

// WMS TLV ids used by the daemon.
const (
	TLVResult            uint8 = 0x02
	TLVRawMessage        uint8 = 0x01 // raw send request, raw read response
	TLVMTMessage         uint8 = 0x10 // event report: message stored
	TLVTransferRouteMT   uint8 = 0x11 // event report: message delivered inline
	TLVMessageMode       uint8 = 0x12
	TLVStorageIndex      uint8 = 0x10 // delete request
	TLVSendMessageID     uint8 = 0x01 // raw send response
	TLVAckInformation    uint8 = 0x01 // send ack request
	TLVReadStorage       uint8 = 0x01 // raw read request
	TLVDeleteStorageType uint8 = 0x01
)

// Message formats.
const (
	FormatGWPointToPoint uint8 = 0x06
	FormatGWBroadcast    uint8 = 0x07
)

const (
	StorageUIM uint8 = 0x00
	StorageNV  uint8 = 0x01

	MessageModeGW uint8 = 0x01

	// AckRequired asks the host to send WMS SendAck for an inline message.
	AckRequired uint8 = 0x00
)

var ErrMalformedWMS = fmt.Errorf("%w: malformed wms payload", protocol.ErrBounds)

// TransferRoute is the inline message TLV of an event report.
type TransferRoute struct {
	Ack           uint8
	TransactionID uint32
	Format        uint8
	Data          []byte
}

// TransferRouteValue encodes a transfer-route MT message TLV value.
func TransferRouteValue(tr TransferRoute) []byte {
	v := make([]byte, 0, 8+len(tr.Data))
	v = append(v, tr.Ack)
	v = binary.LittleEndian.AppendUint32(v, tr.TransactionID)
	v = append(v, tr.Format)
	v = binary.LittleEndian.AppendUint16(v, uint16(len(tr.Data)))
	return append(v, tr.Data...)
}

func ParseTransferRoute(v []byte) (TransferRoute, error) {
	if len(v) < 8 {
		return TransferRoute{}, ErrMalformedWMS
	}
	n := int(binary.LittleEndian.Uint16(v[6:8]))
	if len(v)-8 < n {
		return TransferRoute{}, fmt.Errorf("%w: transfer route len=%d have=%d", ErrMalformedWMS, n, len(v)-8)
	}
	return TransferRoute{
		Ack:           v[0],
		TransactionID: binary.LittleEndian.Uint32(v[1:5]),
		Format:        v[5],
		Data:          v[8 : 8+n],
	}, nil
}

// StorageValue encodes {storage type, index}.
func StorageValue(storage uint8, index uint32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{storage}, index)
}

func ParseStorage(v []byte) (uint8, uint32, error) {
	if len(v) < 5 {
		return 0, 0, ErrMalformedWMS
	}
	return v[0], binary.LittleEndian.Uint32(v[1:5]), nil
}

// RawMessage is the {tag|format, format, len, data} layout shared by raw
// send requests and raw read responses.
type RawMessage struct {
	Tag    uint8
	Format uint8
	Data   []byte
}

// ParseRawSend decodes a raw send request value: {format, len u16, data}.
func ParseRawSend(v []byte) (RawMessage, error) {
	if len(v) < 3 {
		return RawMessage{}, ErrMalformedWMS
	}
	n := int(binary.LittleEndian.Uint16(v[1:3]))
	if len(v)-3 < n {
		return RawMessage{}, ErrMalformedWMS
	}
	return RawMessage{Format: v[0], Data: v[3 : 3+n]}, nil
}

func RawSendValue(format uint8, data []byte) []byte {
	v := binary.LittleEndian.AppendUint16([]byte{format}, uint16(len(data)))
	return append(v, data...)
}

// ParseRawRead decodes a raw read response value: {tag, format, len u16, data}.
func ParseRawRead(v []byte) (RawMessage, error) {
	if len(v) < 4 {
		return RawMessage{}, ErrMalformedWMS
	}
	n := int(binary.LittleEndian.Uint16(v[2:4]))
	if len(v)-4 < n {
		return RawMessage{}, ErrMalformedWMS
	}
	return RawMessage{Tag: v[0], Format: v[1], Data: v[4 : 4+n]}, nil
}

func RawReadValue(tag, format uint8, data []byte) []byte {
	v := binary.LittleEndian.AppendUint16([]byte{tag, format}, uint16(len(data)))
	return append(v, data...)
}

// ResultValue encodes the standard result TLV; zero error means success.
func ResultValue(qmiErr uint16) []byte {
	result := uint16(0)
	if qmiErr != 0 {
		result = 1
	}
	v := binary.LittleEndian.AppendUint16(nil, result)
	return binary.LittleEndian.AppendUint16(v, qmiErr)
}

// ResultOK reports whether a response frame carries a success result.
func ResultOK(b []byte) bool {
	v, ok := frame.FindTLV(b, TLVResult)
	if !ok {
		return false
	}
	r, err := tlv.U16(v.Value)
	return err == nil && r == 0
}

// AckValue encodes a send ack request value.
func AckValue(txid uint32, success bool) []byte {
	v := binary.LittleEndian.AppendUint32(nil, txid)
	ok := uint8(0)
	if success {
		ok = 1
	}
	return append(v, 0x01, ok) // protocol: 3GPP
}

func ParseAck(v []byte) (uint32, error) {
	if len(v) < 4 {
		return 0, ErrMalformedWMS
	}
	return binary.LittleEndian.Uint32(v[:4]), nil
}

func isIndication(b []byte) bool {
	h, err := frame.DecodeQMI(b, frame.ServiceOf(b))
	return err == nil && h.CtlFlags == frame.FlagIndication
}

func isResponse(b []byte) bool {
	h, err := frame.DecodeQMI(b, frame.ServiceOf(b))
	return err == nil && h.CtlFlags == frame.FlagResponse
}
