package inject

import (
	"unicode/utf8"

	"github.com/danmuck/qmuxd/internal/call"
	"github.com/danmuck/qmuxd/internal/messaging"
	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
)

const (
	// SimulatedCallID is the slot the fake incoming call occupies.
	SimulatedCallID uint8 = 1

	maxCBPages    = 15
	cbPageSeptets = messaging.CBContentLen * 8 / 7
)

// CallStatusFrame builds an all-call-status indication describing the
// simulated incoming call in state st.
func CallStatusFrame(clientID uint8, number string, st call.State) []byte {
	b := frame.NewIndication(protocol.ServiceVoice, clientID, protocol.VoiceAllCallStatusInd).
		Add(call.TLVCallInformation, call.CallInformationValue(call.CallRecord{
			ID:        SimulatedCallID,
			State:     st,
			Type:      0x00, // voice
			Direction: call.DirectionIncoming,
			ModeCode:  call.ModeCodeGSM,
		}))
	if number != "" {
		b.Add(call.TLVRemotePartyNumber, call.RemoteNumbersValue(call.RemoteNumber{
			ID:     SimulatedCallID,
			Number: []byte(number),
		}))
	}
	return b.Bytes()
}

// CBFrames splits text into cell broadcast pages, one event report
// indication per page.
func CBFrames(clientID uint8, e CBEntry, update uint8) ([][]byte, error) {
	chunks := splitPages(e.Text)
	serial := e.Serial&^0x000f | uint16(update&0x0f)
	out := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		page, err := messaging.EncodeCBPage(serial, e.MessageID, i+1, len(chunks), chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, frame.NewIndication(protocol.ServiceWMS, clientID, protocol.WMSEventReport).
			Add(messaging.TLVTransferRouteMT, messaging.TransferRouteValue(messaging.TransferRoute{
				Ack:    1, // broadcast, no ack expected
				Format: messaging.FormatGWBroadcast,
				Data:   page,
			})).
			AddU8(messaging.TLVMessageMode, messaging.MessageModeGW).
			Bytes())
	}
	return out, nil
}

func splitPages(text string) []string {
	var pages []string
	for len(text) > 0 && len(pages) < maxCBPages {
		n, count := 0, 0
		for n < len(text) && count < cbPageSeptets {
			_, size := utf8.DecodeRuneInString(text[n:])
			n += size
			count++
		}
		pages = append(pages, text[:n])
		text = text[n:]
	}
	if len(pages) == 0 {
		pages = append(pages, "")
	}
	return pages
}
