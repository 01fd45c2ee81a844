package call

import (
	"context"
	"sync"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Audio receives call audio events. StartSession and StopSession are called
// from the proxy loop and should return quickly. PlayAlertingTone and Record
// run in their own task and must return when ctx is cancelled.
type Audio interface {
	StartSession(mode Mode) error
	StopSession() error
	PlayAlertingTone(ctx context.Context) error
	Record(ctx context.Context) error
}

type Config struct {
	// CustomAlertTone plays a local tone while the remote side is alerting.
	CustomAlertTone bool
	// ExternalCodecReset restarts the audio session when a call is established.
	ExternalCodecReset bool
	AutoRecord         bool
}

// Status is the machine-wide part of a snapshot.
type Status struct {
	Session      Mode   `json:"session"`
	Alerting     bool   `json:"alerting"`
	ActiveCallID uint8  `json:"active_call_id"`
	RecordNext   bool   `json:"record_next"`
	ToneTask     string `json:"tone_task,omitempty"`
	RecordTask   string `json:"record_task,omitempty"`
}

// Machine owns the call slot table. HandleFrame is called from a single
// goroutine; the mutex lets other goroutines read snapshots and set toggles.
type Machine struct {
	cfg   Config
	audio Audio

	mu           sync.Mutex
	slots        [MaxActiveCalls]Slot
	session      Mode
	alerting     bool
	activeCallID uint8
	recordNext   bool
	tone         *Task
	recording    *Task

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

func NewMachine(cfg Config, audio Audio) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:    cfg,
		audio:  audio,
		ctx:    ctx,
		cancel: cancel,
	}
}

// HandleFrame applies a voice service frame. Frames other than call-status
// indications are ignored. A non-nil error means the indication was not
// applied and the frame should still be forwarded.
func (m *Machine) HandleFrame(b []byte) error {
	if frame.MessageIDOf(b) != protocol.VoiceAllCallStatusInd {
		return nil
	}
	ind, err := DecodeAllCallStatus(b)
	if err != nil {
		log.Error().Err(err).Msg("call.machine decode call status")
		return err
	}
	for _, rec := range ind.Calls {
		if int(rec.ID) >= MaxActiveCalls {
			log.Error().Uint8("call_id", rec.ID).Int("calls_active", ind.Active()).Msg("call.machine dropping indication")
			return ErrSlotBounds
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range ind.Calls {
		num, _ := ind.NumberFor(rec.ID)
		m.apply(rec, num, ind.Active())
	}
	return nil
}

func (m *Machine) apply(rec CallRecord, number []byte, active int) {
	slot := &m.slots[rec.ID]
	prev := slot.State

	mode, known := ModeFor(rec.ModeCode)
	if !known {
		log.Warn().Uint8("mode_code", rec.ModeCode).Uint8("call_id", rec.ID).Msg("call.machine unknown call mode, using cs")
	}
	slot.ID = rec.ID
	slot.Direction = rec.Direction
	slot.ModeCode = rec.ModeCode
	slot.Mode = mode
	slot.State = rec.State
	switch {
	case number != nil:
		slot.NumberLen = copy(slot.Number[:], number)
	case prev == StateIdle || prev == StateHangup:
		// new call in a reused slot with the number withheld
		slot.NumberLen = 0
	}
	log.Info().
		Uint8("call_id", rec.ID).
		Int("calls_active", active).
		Stringer("direction", rec.Direction).
		Stringer("mode", mode).
		Stringer("state", rec.State).
		Msg("call.machine call status")

	switch rec.State {
	case StatePreparing, StateAttempt, StateOriginating, StateRinging, StateWaiting, StateOnHold:
		m.clearAlerting(slot)
		m.startAudio(mode)
	case StateAlerting:
		switch {
		case !m.cfg.CustomAlertTone:
			m.clearAlerting(slot)
			m.startAudio(mode)
		case !m.alerting:
			m.alerting = true
			slot.Alerting = true
			m.stopAudio()
			m.tone = startTask(m.ctx, &m.tasks, "alerting_tone", m.audio.PlayAlertingTone)
		default:
			log.Debug().Uint8("call_id", rec.ID).Msg("call.machine already alerting")
		}
	case StateEstablished:
		m.clearAlerting(slot)
		if m.cfg.ExternalCodecReset && prev != StateEstablished {
			m.stopAudio()
		}
		m.activeCallID = rec.ID
		m.startAudio(mode)
		if prev != StateEstablished && (m.recordNext || m.cfg.AutoRecord) && !m.recording.Running() {
			m.recording = startTask(m.ctx, &m.tasks, "call_recording", m.audio.Record)
			m.recordNext = false
		}
	case StateDisconnecting, StateHangup:
		// Calls waiting or on hold keep the session; the threshold is not
		// verified for three or more calls.
		if active < 2 {
			m.stopAudio()
		}
		m.clearAlerting(slot)
	default:
		log.Warn().Uint8("call_id", rec.ID).Uint8("state", uint8(rec.State)).Msg("call.machine unknown call state")
	}
}

func (m *Machine) clearAlerting(slot *Slot) {
	slot.Alerting = false
	if m.alerting {
		m.alerting = false
		m.tone.Cancel()
	}
}

func (m *Machine) startAudio(mode Mode) {
	if m.session == mode {
		return
	}
	if m.session != ModeNone {
		m.stopAudio()
	}
	if err := m.audio.StartSession(mode); err != nil {
		log.Error().Err(err).Stringer("mode", mode).Msg("call.machine start audio")
		return
	}
	m.session = mode
}

func (m *Machine) stopAudio() {
	if m.session == ModeNone {
		return
	}
	m.recording.Cancel()
	if err := m.audio.StopSession(); err != nil {
		log.Error().Err(err).Msg("call.machine stop audio")
	}
	m.session = ModeNone
}

// RecordNextCall arms or disarms recording of the next established call.
func (m *Machine) RecordNextCall(enabled bool) {
	m.mu.Lock()
	m.recordNext = enabled
	m.mu.Unlock()
}

// SetCustomAlertTone toggles the local alerting tone at runtime.
func (m *Machine) SetCustomAlertTone(enabled bool) {
	m.mu.Lock()
	m.cfg.CustomAlertTone = enabled
	m.mu.Unlock()
}

// Snapshot returns the slots of calls that have not hung up.
func (m *Machine) Snapshot() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, 0, MaxActiveCalls)
	for _, s := range m.slots {
		if s.State != StateIdle && s.State != StateHangup {
			out = append(out, s)
		}
	}
	return out
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Session:      m.session,
		Alerting:     m.alerting,
		ActiveCallID: m.activeCallID,
		RecordNext:   m.recordNext,
	}
	if m.tone.Running() {
		st.ToneTask = m.tone.ID.String()
	}
	if m.recording.Running() {
		st.RecordTask = m.recording.ID.String()
	}
	return st
}

// Close cancels background tasks and waits for them to return.
func (m *Machine) Close() {
	m.cancel()
	m.tasks.Wait()
}
