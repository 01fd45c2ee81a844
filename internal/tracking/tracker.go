// Package tracking keeps the per-service client id bookkeeping the control
// service hands out to the host.
package tracking

import (
	"sort"
	"sync"

	"github.com/danmuck/qmuxd/internal/protocol"
	"github.com/danmuck/qmuxd/internal/protocol/frame"
	"github.com/danmuck/qmuxd/internal/protocol/tlv"
	"github.com/danmuck/qmuxd/internal/router"
	"github.com/rs/zerolog/log"
)

const (
	tlvClient uint8 = 0x01
	tlvResult uint8 = 0x02
)

var _ router.ClientTracker = (*Tracker)(nil)

// Tracker records client ids from control-service allocate and release
// responses.
type Tracker struct {
	mu      sync.Mutex
	clients map[protocol.ServiceID]map[uint8]struct{}
}

func New() *Tracker {
	return &Tracker{
		clients: make(map[protocol.ServiceID]map[uint8]struct{}),
	}
}

// ServiceClients is the client id list for one service.
type ServiceClients struct {
	Service string  `json:"service"`
	ID      uint8   `json:"id"`
	Clients []uint8 `json:"clients"`
}

func (t *Tracker) Track(src router.Source, b []byte) {
	f, err := frame.Decode(b)
	if err != nil || !f.QMI.Control {
		return
	}
	v, ok := tlv.Find(f.TLVs, tlvClient)
	if !ok || len(v.Value) < 1 {
		return
	}
	svc := protocol.ServiceID(v.Value[0])

	t.mu.Lock()
	defer t.mu.Unlock()
	if src == router.SourceHost {
		if f.QMI.CtlFlags == frame.CtlFlagRequest {
			log.Debug().Stringer("service", svc).Uint16("txid", f.QMI.TransactionID).
				Str("message", protocol.MessageLabel(protocol.ServiceControl, f.QMI.MessageID)).Msg("tracking.request")
		}
		return
	}
	if f.QMI.CtlFlags != frame.CtlFlagResponse {
		return
	}
	if res, ok := tlv.Find(f.TLVs, tlvResult); ok {
		if r, err := tlv.U16(res.Value); err != nil || r != 0 {
			log.Warn().Stringer("service", svc).Msg("tracking.client request failed")
			return
		}
	}
	if len(v.Value) < 2 {
		return
	}
	cid := v.Value[1]
	switch f.QMI.MessageID {
	case protocol.CtlClientRegisterReq:
		set, ok := t.clients[svc]
		if !ok {
			set = make(map[uint8]struct{})
			t.clients[svc] = set
		}
		set[cid] = struct{}{}
		log.Info().Stringer("service", svc).Uint8("client", cid).Int("clients", len(set)).Msg("tracking.client allocated")
	case protocol.CtlClientReleaseReq:
		if set, ok := t.clients[svc]; ok {
			delete(set, cid)
			if len(set) == 0 {
				delete(t.clients, svc)
			}
		}
		log.Info().Stringer("service", svc).Uint8("client", cid).Msg("tracking.client released")
	}
}

// Count is the number of allocated clients for svc.
func (t *Tracker) Count(svc protocol.ServiceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients[svc])
}

// Snapshot lists allocated clients per service, ordered by service id.
func (t *Tracker) Snapshot() []ServiceClients {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ServiceClients, 0, len(t.clients))
	for svc, set := range t.clients {
		sc := ServiceClients{Service: svc.String(), ID: uint8(svc)}
		for cid := range set {
			sc.Clients = append(sc.Clients, cid)
		}
		sort.Slice(sc.Clients, func(i, j int) bool { return sc.Clients[i] < sc.Clients[j] })
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClientFor returns the lowest client id the host holds for svc.
func (t *Tracker) ClientFor(svc protocol.ServiceID) (uint8, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.clients[svc]
	if !ok || len(set) == 0 {
		return 0, false
	}
	first := true
	var low uint8
	for cid := range set {
		if first || cid < low {
			low = cid
			first = false
		}
	}
	return low, true
}
