package proxy

import "sync/atomic"

// Stats counts frame outcomes for one channel. Each counter has a single
// writer, the channel's loop, except Other which the router bumps.
type Stats struct {
	allowed   atomic.Uint64
	bypassed  atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
	empty     atomic.Uint64
	other     atomic.Uint64
}

type StatsSnapshot struct {
	Allowed   uint64 `json:"allowed"`
	Bypassed  uint64 `json:"bypassed"`
	Discarded uint64 `json:"discarded"`
	Failed    uint64 `json:"failed"`
	Empty     uint64 `json:"empty"`
	Other     uint64 `json:"other"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Allowed:   s.allowed.Load(),
		Bypassed:  s.bypassed.Load(),
		Discarded: s.discarded.Load(),
		Failed:    s.failed.Load(),
		Empty:     s.empty.Load(),
		Other:     s.other.Load(),
	}
}

// Outcomes keys the snapshot by outcome label for the metrics collectors.
func (s *Stats) Outcomes() map[string]uint64 {
	snap := s.Snapshot()
	return map[string]uint64{
		"allowed":   snap.Allowed,
		"bypassed":  snap.Bypassed,
		"discarded": snap.Discarded,
		"failed":    snap.Failed,
		"empty":     snap.Empty,
		"other":     snap.Other,
	}
}

func (s *Stats) CountOther() {
	s.other.Add(1)
}
