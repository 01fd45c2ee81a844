package state

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSuspendPath is the USB controller suspend flag on the target SoC.
const DefaultSuspendPath = "/sys/devices/78d9000.usb/msm_hsusb/isr_suspend_state"

// SuspendProbe reads the host transport suspend flag from sysfs.
type SuspendProbe struct {
	Path string
	// WakeSettle delays reporting resume so the transport can finish waking.
	WakeSettle time.Duration

	shared *Shared
	sleep  func(time.Duration)
}

func NewSuspendProbe(path string, wakeSettle time.Duration, shared *Shared) *SuspendProbe {
	if path == "" {
		path = DefaultSuspendPath
	}
	return &SuspendProbe{Path: path, WakeSettle: wakeSettle, shared: shared, sleep: time.Sleep}
}

// Poll reads the flag once and updates the shared state. A missing or
// unreadable file leaves the last known state in place.
func (p *SuspendProbe) Poll() bool {
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		log.Debug().Err(err).Str("path", p.Path).Msg("state.suspend read")
		return p.shared.TransceiverSuspended()
	}
	field := strings.TrimSpace(string(raw))
	if field == "" {
		return p.shared.TransceiverSuspended()
	}
	val, err := strconv.Atoi(field[:1])
	if err != nil {
		log.Warn().Str("value", field).Str("path", p.Path).Msg("state.suspend unexpected value")
		return p.shared.TransceiverSuspended()
	}

	was := p.shared.TransceiverSuspended()
	switch {
	case val > 0 && !was:
		log.Info().Msg("state.suspend transceiver suspended")
		p.shared.SetTransceiverSuspended(true)
	case val == 0 && was:
		if p.WakeSettle > 0 {
			p.sleep(p.WakeSettle)
		}
		log.Info().Msg("state.suspend transceiver resumed")
		p.shared.SetTransceiverSuspended(false)
	}
	return p.shared.TransceiverSuspended()
}

// Run polls every interval until ctx is done.
func (p *SuspendProbe) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		p.Poll()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
