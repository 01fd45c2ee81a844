package messaging

import (
	"fmt"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// Text is a decoded short message.
type Text struct {
	Number string
	Body   string
}

// EncodeDeliver builds SMS-DELIVER PDUs, one per segment, in the raw GW
// format the baseband uses (SMSC address followed by the TPDU).
func EncodeDeliver(from, body string) ([][]byte, error) {
	segments, err := sms.Encode([]byte(body), sms.AsDeliver, sms.From(from))
	if err != nil {
		return nil, fmt.Errorf("messaging: encode deliver: %w", err)
	}
	out := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		b, err := seg.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("messaging: marshal tpdu: %w", err)
		}
		raw, err := (&pdumode.PDU{TPDU: b}).MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("messaging: marshal pdu: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// EncodeSubmit builds SMS-SUBMIT PDUs addressed to to.
func EncodeSubmit(to, body string) ([][]byte, error) {
	segments, err := sms.Encode([]byte(body), sms.To(to))
	if err != nil {
		return nil, fmt.Errorf("messaging: encode submit: %w", err)
	}
	out := make([][]byte, 0, len(segments))
	for _, seg := range segments {
		b, err := seg.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("messaging: marshal tpdu: %w", err)
		}
		raw, err := (&pdumode.PDU{TPDU: b}).MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("messaging: marshal pdu: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// DecodeSubmit decodes a host-originated raw PDU.
func DecodeSubmit(raw []byte) (Text, error) {
	return decode(raw, true)
}

// DecodeDeliver decodes a baseband-stored raw PDU.
func DecodeDeliver(raw []byte) (Text, error) {
	return decode(raw, false)
}

func decode(raw []byte, mo bool) (Text, error) {
	pm, err := pdumode.UnmarshalBinary(raw)
	if err != nil {
		return Text{}, fmt.Errorf("messaging: pdumode: %w", err)
	}
	var pdu *tpdu.TPDU
	if mo {
		pdu, err = sms.Unmarshal(pm.TPDU, sms.AsMO)
	} else {
		pdu, err = sms.Unmarshal(pm.TPDU)
	}
	if err != nil {
		return Text{}, fmt.Errorf("messaging: unmarshal tpdu: %w", err)
	}
	body, err := sms.Decode([]*tpdu.TPDU{pdu})
	if err != nil {
		return Text{}, fmt.Errorf("messaging: decode body: %w", err)
	}
	num := pdu.OA.Number()
	if mo {
		num = pdu.DA.Number()
	}
	return Text{Number: num, Body: string(body)}, nil
}
