package call

import (
	"fmt"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
)

// AllCallStatus TLV ids.
const (
	TLVCallInformation   uint8 = 0x01
	TLVRemotePartyNumber uint8 = 0x10
)

const callRecordLen = 7

var (
	ErrNoCallInfo     = fmt.Errorf("%w: call information tlv missing", protocol.ErrBounds)
	ErrCallInfoLength = fmt.Errorf("%w: call information tlv truncated", protocol.ErrBounds)
)

// CallRecord is one entry of the call information TLV.
type CallRecord struct {
	ID         uint8
	State      State
	Type       uint8
	Direction  Direction
	ModeCode   uint8
	Multiparty bool
	ALS        uint8
}

type RemoteNumber struct {
	ID           uint8
	Presentation uint8
	Number       []byte
}

// AllCallStatus is a decoded call-status indication.
type AllCallStatus struct {
	Calls   []CallRecord
	Numbers []RemoteNumber
}

// Active is the number of calls the baseband reported.
func (a AllCallStatus) Active() int {
	return len(a.Calls)
}

// NumberFor returns the remote number reported for a call id.
func (a AllCallStatus) NumberFor(id uint8) ([]byte, bool) {
	for _, n := range a.Numbers {
		if n.ID == id {
			return n.Number, true
		}
	}
	return nil, false
}

// DecodeAllCallStatus decodes the call information and remote number TLVs
// of a call-status indication. A damaged remote number list is cut at the
// last complete entry.
func DecodeAllCallStatus(b []byte) (AllCallStatus, error) {
	var out AllCallStatus
	info, ok := frame.FindTLV(b, TLVCallInformation)
	if !ok {
		return out, ErrNoCallInfo
	}
	v := info.Value
	if len(v) < 1 {
		return out, ErrCallInfoLength
	}
	count := int(v[0])
	if len(v)-1 < count*callRecordLen {
		return out, fmt.Errorf("%w: count=%d len=%d", ErrCallInfoLength, count, len(v))
	}
	out.Calls = make([]CallRecord, 0, count)
	for i := 0; i < count; i++ {
		r := v[1+i*callRecordLen : 1+(i+1)*callRecordLen]
		out.Calls = append(out.Calls, CallRecord{
			ID:         r[0],
			State:      State(r[1]),
			Type:       r[2],
			Direction:  Direction(r[3]),
			ModeCode:   r[4],
			Multiparty: r[5] != 0,
			ALS:        r[6],
		})
	}

	if nums, ok := frame.FindTLV(b, TLVRemotePartyNumber); ok {
		out.Numbers = decodeRemoteNumbers(nums.Value)
	}
	return out, nil
}

func decodeRemoteNumbers(v []byte) []RemoteNumber {
	if len(v) < 1 {
		return nil
	}
	count := int(v[0])
	out := make([]RemoteNumber, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		if len(v)-off < 3 {
			break
		}
		id, pres, n := v[off], v[off+1], int(v[off+2])
		off += 3
		if len(v)-off < n {
			break
		}
		out = append(out, RemoteNumber{ID: id, Presentation: pres, Number: v[off : off+n : off+n]})
		off += n
	}
	return out
}

// CallInformationValue encodes call records as a call information TLV value.
func CallInformationValue(calls ...CallRecord) []byte {
	val := make([]byte, 0, 1+len(calls)*callRecordLen)
	val = append(val, uint8(len(calls)))
	for _, c := range calls {
		mpty := uint8(0)
		if c.Multiparty {
			mpty = 1
		}
		val = append(val, c.ID, uint8(c.State), c.Type, uint8(c.Direction), c.ModeCode, mpty, c.ALS)
	}
	return val
}

// RemoteNumbersValue encodes a remote party number TLV value. Numbers longer
// than MaxPhoneNumberLength are truncated.
func RemoteNumbersValue(nums ...RemoteNumber) []byte {
	val := []byte{uint8(len(nums))}
	for _, n := range nums {
		num := n.Number
		if len(num) > MaxPhoneNumberLength {
			num = num[:MaxPhoneNumberLength]
		}
		val = append(val, n.ID, n.Presentation, uint8(len(num)))
		val = append(val, num...)
	}
	return val
}
