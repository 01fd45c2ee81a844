// Package messaging is the daemon's SMS collaborator: it owns the outbound
// queue toward the host, recognizes WMS frames the proxy must intercept, and
// retrieves messages stuck in baseband storage.
package messaging

import (
	"errors"
	"sync"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Source says who raised the pending notification.
type Source uint8

const (
	SourceNone Source = iota
	SourceInternal
	SourceExternal
)

func (s Source) String() string {
	switch s {
	case SourceInternal:
		return "internal"
	case SourceExternal:
		return "external"
	default:
		return "none"
	}
}

var ErrQueueFull = errors.New("messaging: outbound queue full")

const (
	DefaultQueueSize  = 32
	DefaultSelfNumber = "223344556677"
	DefaultClientID   = 1

	internalTxidBase = 0xf000
)

type Config struct {
	QueueSize int
	// SelfNumber is the address the host texts to reach the daemon.
	SelfNumber string
	// SenderNumber is the originating address of daemon replies.
	SenderNumber string
	// ClientID is used for WMS frames until the host's client id is seen.
	ClientID uint8
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SelfNumber == "" {
		c.SelfNumber = DefaultSelfNumber
	}
	if c.SenderNumber == "" {
		c.SenderNumber = c.SelfNumber
	}
	if c.ClientID == 0 {
		c.ClientID = DefaultClientID
	}
	return c
}

// CommandHandler receives texts the host addressed to SelfNumber.
type CommandHandler func(from, body string)

type pendingRead struct {
	storage uint8
	index   uint32
	// recovered is the host frame carrying the message read back.
	recovered []byte
}

type Service struct {
	cfg     Config
	onText  CommandHandler
	mu      sync.Mutex
	queue   [][]byte
	source  Source
	notify  bool
	stored  uint32
	client  uint8
	nextTx  uint16
	nextRef uint32

	stuck    []uint32
	deletes  []pendingRead
	inflight map[uint16]pendingRead
	acks     map[uint32]struct{}
}

func New(cfg Config, onText CommandHandler) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		onText:   onText,
		nextTx:   internalTxidBase,
		nextRef:  1,
		inflight: make(map[uint16]pendingRead),
		acks:     make(map[uint32]struct{}),
	}
}

// QueueFrame appends a host-bound frame to the outbound queue.
func (s *Service) QueueFrame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueLocked(b)
}

func (s *Service) queueLocked(frames ...[]byte) error {
	if len(s.queue)+len(frames) > s.cfg.QueueSize {
		log.Warn().Int("queued", len(s.queue)).Int("size", s.cfg.QueueSize).Msg("messaging.queue full, message rejected")
		return ErrQueueFull
	}
	s.queue = append(s.queue, frames...)
	s.source = SourceInternal
	return nil
}

// QueueText encodes body as a message from the daemon and queues one event
// report per segment.
func (s *Service) QueueText(body string) error {
	return s.QueueTextFrom(s.cfg.SenderNumber, body)
}

func (s *Service) QueueTextFrom(from, body string) error {
	pdus, err := EncodeDeliver(from, body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([][]byte, 0, len(pdus))
	refs := make([]uint32, 0, len(pdus))
	for _, pdu := range pdus {
		ref := s.nextRef
		s.nextRef++
		refs = append(refs, ref)
		frames = append(frames, frame.NewIndication(protocol.ServiceWMS, s.clientLocked(), protocol.WMSEventReport).
			Add(TLVTransferRouteMT, TransferRouteValue(TransferRoute{
				Ack:           AckRequired,
				TransactionID: ref,
				Format:        FormatGWPointToPoint,
				Data:          pdu,
			})).
			AddU8(TLVMessageMode, MessageModeGW).
			Bytes())
	}
	if err := s.queueLocked(frames...); err != nil {
		return err
	}
	for _, ref := range refs {
		s.acks[ref] = struct{}{}
	}
	log.Info().Int("segments", len(frames)).Str("from", from).Msg("messaging.queue text")
	return nil
}

// NotifyStored raises an external notification for a message the baseband
// stored at index. A newer notification replaces one not yet sent.
func (s *Service) NotifyStored(index uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = true
	s.stored = index
	if len(s.queue) == 0 {
		s.source = SourceExternal
	}
}

// MarkStuck schedules retrieval of messages left in baseband storage.
func (s *Service) MarkStuck(indices ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck = append(s.stuck, indices...)
}

func (s *Service) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0 || s.notify
}

func (s *Service) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *Service) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// QueueLen is the number of host-bound frames waiting.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// DrainOne pops the next queued host frame.
func (s *Service) DrainOne() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	b := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.source = SourceNone
		if s.notify {
			s.source = SourceExternal
		}
	}
	return b, true
}

// Notification consumes the pending external notification as a host frame.
func (s *Service) Notification() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.notify {
		return nil
	}
	s.notify = false
	index := s.stored
	return frame.NewIndication(protocol.ServiceWMS, s.clientLocked(), protocol.WMSEventReport).
		Add(TLVMTMessage, StorageValue(StorageNV, index)).
		AddU8(TLVMessageMode, MessageModeGW).
		Bytes()
}

func (s *Service) StuckPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stuck) > 0 || len(s.deletes) > 0
}

// RetrieveStuck returns the next step of the retrieval sequence. A message
// that was read back is deleted from baseband storage and delivered to the
// host in the same step; otherwise the next stored index is read.
func (s *Service) RetrieveStuck() (toBaseband, toHost [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deletes) > 0 {
		d := s.deletes[0]
		s.deletes = s.deletes[1:]
		txid := s.txidLocked()
		s.inflight[txid] = pendingRead{storage: d.storage, index: d.index}
		toBaseband = append(toBaseband, frame.NewRequest(protocol.ServiceWMS, s.clientLocked(), txid, protocol.WMSDelete).
			AddU8(TLVDeleteStorageType, d.storage).
			AddU32(TLVStorageIndex, d.index).
			AddU8(TLVMessageMode, MessageModeGW).
			Bytes())
		if d.recovered != nil {
			toHost = append(toHost, d.recovered)
		}
		log.Info().Uint32("index", d.index).Msg("messaging.stuck delete")
		return toBaseband, toHost
	}
	if len(s.stuck) == 0 {
		return nil, nil
	}
	index := s.stuck[0]
	s.stuck = s.stuck[1:]
	txid := s.txidLocked()
	s.inflight[txid] = pendingRead{storage: StorageNV, index: index}
	toBaseband = append(toBaseband, frame.NewRequest(protocol.ServiceWMS, s.clientLocked(), txid, protocol.WMSRawRead).
		Add(TLVReadStorage, StorageValue(StorageNV, index)).
		AddU8(TLVMessageMode, MessageModeGW).
		Bytes())
	log.Info().Uint32("index", index).Msg("messaging.stuck read")
	return toBaseband, nil
}

func (s *Service) txidLocked() uint16 {
	txid := s.nextTx
	s.nextTx++
	if s.nextTx < internalTxidBase {
		s.nextTx = internalTxidBase
	}
	return txid
}

func (s *Service) clientLocked() uint8 {
	if s.client != 0 {
		return s.client
	}
	return s.cfg.ClientID
}
