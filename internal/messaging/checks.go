package messaging

import (
	"strings"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/rs/zerolog/log"
	"github.com/warthog618/sms/encoding/gsm7"
)

var _ router.Messaging = (*Service)(nil)

// CheckWMSMessage intercepts texts the host sends to the daemon and baseband
// responses to requests the daemon issued itself.
func (s *Service) CheckWMSMessage(src router.Source, b []byte) bool {
	if frame.ServiceOf(b) != protocol.ServiceWMS {
		return false
	}
	if src == router.SourceHost {
		s.learnClient(b)
		if frame.MessageIDOf(b) == protocol.WMSRawSend {
			return s.interceptRawSend(b)
		}
		return false
	}
	if !isResponse(b) {
		return false
	}
	h, err := frame.DecodeQMI(b, protocol.ServiceWMS)
	if err != nil {
		return false
	}
	s.mu.Lock()
	req, ok := s.inflight[h.TransactionID]
	if ok {
		delete(s.inflight, h.TransactionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	switch h.MessageID {
	case protocol.WMSRawRead:
		s.recoverRead(b, req)
	case protocol.WMSDelete:
		log.Info().Uint32("index", req.index).Bool("ok", ResultOK(b)).Msg("messaging.stuck deleted")
	}
	return true
}

func (s *Service) recoverRead(b []byte, req pendingRead) {
	if !ResultOK(b) {
		log.Warn().Uint32("index", req.index).Msg("messaging.stuck read failed")
		return
	}
	v, ok := frame.FindTLV(b, TLVRawMessage)
	if !ok {
		log.Warn().Uint32("index", req.index).Msg("messaging.stuck read without message")
		return
	}
	raw, err := ParseRawRead(v.Value)
	if err != nil {
		log.Warn().Err(err).Uint32("index", req.index).Msg("messaging.stuck read")
		return
	}
	if txt, err := DecodeDeliver(raw.Data); err == nil {
		log.Info().Uint32("index", req.index).Str("from", txt.Number).Int("len", len(txt.Body)).Msg("messaging.stuck recovered")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.nextRef
	s.nextRef++
	s.acks[ref] = struct{}{}
	req.recovered = frame.NewIndication(protocol.ServiceWMS, s.clientLocked(), protocol.WMSEventReport).
		Add(TLVTransferRouteMT, TransferRouteValue(TransferRoute{
			Ack:           AckRequired,
			TransactionID: ref,
			Format:        raw.Format,
			Data:          raw.Data,
		})).
		AddU8(TLVMessageMode, MessageModeGW).
		Bytes()
	s.deletes = append(s.deletes, req)
}

func (s *Service) interceptRawSend(b []byte) bool {
	v, ok := frame.FindTLV(b, TLVRawMessage)
	if !ok {
		return false
	}
	raw, err := ParseRawSend(v.Value)
	if err != nil || raw.Format != FormatGWPointToPoint {
		return false
	}
	txt, err := DecodeSubmit(raw.Data)
	if err != nil {
		log.Debug().Err(err).Msg("messaging.raw send decode")
		return false
	}
	if !SameNumber(txt.Number, s.cfg.SelfNumber) {
		return false
	}

	h, _ := frame.DecodeQMI(b, protocol.ServiceWMS)
	s.mu.Lock()
	ref := s.nextRef
	s.nextRef++
	resp := frame.NewResponse(protocol.ServiceWMS, s.clientLocked(), h.TransactionID, protocol.WMSRawSend).
		Add(TLVResult, ResultValue(0)).
		AddU16(TLVSendMessageID, uint16(ref)).
		Bytes()
	err = s.queueLocked(resp)
	s.mu.Unlock()
	if err != nil {
		return false
	}
	log.Info().Int("len", len(txt.Body)).Msg("messaging.command received")
	if s.onText != nil {
		s.onText(txt.Number, txt.Body)
	}
	return true
}

// CheckWMSIndication recognizes event reports about messages stored in
// baseband memory. They are forwarded unchanged.
func (s *Service) CheckWMSIndication(b []byte) bool {
	if frame.MessageIDOf(b) != protocol.WMSEventReport || !isIndication(b) {
		return false
	}
	v, ok := frame.FindTLV(b, TLVMTMessage)
	if !ok {
		return false
	}
	storage, index, err := ParseStorage(v.Value)
	if err != nil {
		return false
	}
	log.Info().Uint8("storage", storage).Uint32("index", index).Msg("messaging.indication message stored")
	return true
}

// CheckCBMessage recognizes cell broadcast event reports.
func (s *Service) CheckCBMessage(b []byte) bool {
	if frame.MessageIDOf(b) != protocol.WMSEventReport || !isIndication(b) {
		return false
	}
	v, ok := frame.FindTLV(b, TLVTransferRouteMT)
	if !ok {
		return false
	}
	tr, err := ParseTransferRoute(v.Value)
	if err != nil || tr.Format != FormatGWBroadcast {
		return false
	}
	page, err := ParseCBPage(tr.Data)
	if err != nil {
		log.Warn().Err(err).Msg("messaging.cb page")
		return true
	}
	log.Info().
		Uint16("serial", page.Serial).
		Uint16("message_id", page.MessageID).
		Int("page", page.Page).
		Int("pages", page.Pages).
		Msg("messaging.cb received")
	return true
}

// NeedsRerouting answers host acks for messages the daemon injected; the
// baseband never saw those messages.
func (s *Service) NeedsRerouting(b []byte) bool {
	if frame.MessageIDOf(b) != protocol.WMSSendAck {
		return false
	}
	v, ok := frame.FindTLV(b, TLVAckInformation)
	if !ok {
		return false
	}
	ref, err := ParseAck(v.Value)
	if err != nil {
		return false
	}
	h, _ := frame.DecodeQMI(b, protocol.ServiceWMS)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[ref]; !ok {
		return false
	}
	delete(s.acks, ref)
	resp := frame.NewResponse(protocol.ServiceWMS, s.clientLocked(), h.TransactionID, protocol.WMSSendAck).
		Add(TLVResult, ResultValue(0)).
		Bytes()
	if err := s.queueLocked(resp); err != nil {
		log.Warn().Err(err).Uint32("ref", ref).Msg("messaging.ack response dropped")
	}
	return true
}

func (s *Service) learnClient(b []byte) {
	if len(b) < frame.QMUXHeaderLen || b[5] == 0 {
		return
	}
	s.mu.Lock()
	s.client = b[5]
	s.mu.Unlock()
}

// CB page layout: serial u16 BE, message id u16 BE, dcs, page parameter, 82
// octets of packed content.
const (
	CBHeaderLen  = 6
	CBContentLen = 82
	CBPageLen    = CBHeaderLen + CBContentLen
	cbSeptets    = CBContentLen * 8 / 7
)

type CBPage struct {
	Serial    uint16
	MessageID uint16
	DCS       uint8
	Page      int
	Pages     int
	Text      string
}

// EncodeCBPage packs text into one GSM 7-bit cell broadcast page, padding
// with carriage returns.
func EncodeCBPage(serial, messageID uint16, page, pages int, text string) ([]byte, error) {
	enc := gsm7.NewEncoder()
	septets, err := enc.Encode([]byte(text))
	if err != nil {
		return nil, err
	}
	if len(septets) > cbSeptets {
		septets = septets[:cbSeptets]
	}
	for len(septets) < cbSeptets {
		septets = append(septets, '\r')
	}
	packed := gsm7.Pack7Bit(septets, 0)
	out := make([]byte, 0, CBPageLen)
	out = append(out, byte(serial>>8), byte(serial), byte(messageID>>8), byte(messageID))
	out = append(out, 0x0f, byte(page&0x0f)<<4|byte(pages&0x0f)) // dcs: gsm7, language unspecified
	out = append(out, packed...)
	for len(out) < CBPageLen {
		out = append(out, 0)
	}
	return out[:CBPageLen], nil
}

func ParseCBPage(b []byte) (CBPage, error) {
	if len(b) < CBHeaderLen {
		return CBPage{}, ErrMalformedWMS
	}
	p := CBPage{
		Serial:    uint16(b[0])<<8 | uint16(b[1]),
		MessageID: uint16(b[2])<<8 | uint16(b[3]),
		DCS:       b[4],
		Page:      int(b[5] >> 4),
		Pages:     int(b[5] & 0x0f),
	}
	septets := gsm7.Unpack7Bit(b[CBHeaderLen:], 0)
	dec := gsm7.NewDecoder()
	text, err := dec.Decode(septets)
	if err != nil {
		return p, err
	}
	for len(text) > 0 && (text[len(text)-1] == '\r' || text[len(text)-1] == 0) {
		text = text[:len(text)-1]
	}
	p.Text = string(text)
	return p, nil
}

// SameNumber compares two addresses ignoring the international '+' prefix
// and surrounding space.
func SameNumber(a, b string) bool {
	return normalizeNumber(a) == normalizeNumber(b)
}

func normalizeNumber(n string) string {
	return strings.TrimPrefix(strings.TrimSpace(n), "+")
}
