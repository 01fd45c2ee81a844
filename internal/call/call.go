// Package call tracks voice calls from baseband call-status indications and
// drives the audio collaborator from their state changes.
package call

import (
	"fmt"

	"github.com/danmuck/qmuxd/internal/protocol"
)

const (
	MaxActiveCalls       = 10
	MaxPhoneNumberLength = 32
)

// ErrSlotBounds marks a call id that does not fit the slot table.
var ErrSlotBounds = fmt.Errorf("%w: call slot out of range", protocol.ErrBounds)

// State is the baseband call state code. Unknown codes keep their value.
type State uint8

const (
	StateIdle          State = 0x00
	StateOriginating   State = 0x01
	StateRinging       State = 0x02
	StateEstablished   State = 0x03
	StateAttempt       State = 0x04
	StateAlerting      State = 0x05
	StateOnHold        State = 0x06
	StateWaiting       State = 0x07
	StateDisconnecting State = 0x08
	StateHangup        State = 0x09
	StatePreparing     State = 0x0a
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateOriginating:   "originating",
	StateRinging:       "ringing",
	StateEstablished:   "established",
	StateAttempt:       "attempt",
	StateAlerting:      "alerting",
	StateOnHold:        "on_hold",
	StateWaiting:       "waiting",
	StateDisconnecting: "disconnecting",
	StateHangup:        "hangup",
	StatePreparing:     "preparing",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state_0x%02x", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode is the audio path a call needs.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeCircuitSwitched
	ModeVoLTE
)

func (m Mode) String() string {
	switch m {
	case ModeCircuitSwitched:
		return "cs"
	case ModeVoLTE:
		return "volte"
	default:
		return "none"
	}
}

// Baseband call mode codes.
const (
	ModeCodeNoNetwork  uint8 = 0x00
	ModeCodeUnknown    uint8 = 0x01
	ModeCodeGSM        uint8 = 0x02
	ModeCodeUMTS       uint8 = 0x03
	ModeCodeLTE        uint8 = 0x04
	ModeCodeUnknownAlt uint8 = 0x06
)

// ModeFor maps a baseband mode code to an audio mode. ok is false for codes
// that fell back to circuit switched.
func ModeFor(code uint8) (Mode, bool) {
	switch code {
	case ModeCodeNoNetwork, ModeCodeUnknown, ModeCodeGSM, ModeCodeUMTS, ModeCodeUnknownAlt:
		return ModeCircuitSwitched, true
	case ModeCodeLTE:
		return ModeVoLTE, true
	default:
		return ModeCircuitSwitched, false
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type Direction uint8

const (
	DirectionUnknown  Direction = 0x00
	DirectionOutgoing Direction = 0x01
	DirectionIncoming Direction = 0x02
)

func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Slot is one entry of the call table, indexed by call id.
type Slot struct {
	ID        uint8
	Direction Direction
	Mode      Mode
	ModeCode  uint8
	State     State
	Number    [MaxPhoneNumberLength]byte
	NumberLen int
	Alerting  bool
}

// PhoneNumber returns the remote party number as text.
func (s Slot) PhoneNumber() string {
	return string(s.Number[:s.NumberLen])
}
