package rewards

import (
	"sync"
	"time"
)

// CycleKind classifies metered compute cycles.
type CycleKind string

const (
	CycleExecution CycleKind = "execution"
	CycleZkProof   CycleKind = "zk-proof"
)

// DefaultRetention is how long meter entries are kept before pruning.
const DefaultRetention = 24 * time.Hour

type meterEntry struct {
	kind   CycleKind
	cycles uint64
	at     time.Time
}

// Meter tracks per-peer compute cycles over a sliding retention window. It is
// an operational gauge, not a settlement record; claims settle against stored
// receipts, not the meter.
type Meter struct {
	retention time.Duration
	clock     func() time.Time

	mu      sync.Mutex
	entries map[string][]meterEntry
}

// NewMeter creates a meter with the default 24h retention.
func NewMeter() *Meter {
	return NewMeterWithClock(DefaultRetention, time.Now)
}

// NewMeterWithClock creates a meter with explicit retention and clock.
func NewMeterWithClock(retention time.Duration, clock func() time.Time) *Meter {
	return &Meter{
		retention: retention,
		clock:     clock,
		entries:   make(map[string][]meterEntry),
	}
}

// Credit records cycles of a given kind for a peer.
func (m *Meter) Credit(peerID string, kind CycleKind, cycles uint64) {
	if cycles == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[peerID] = append(m.entries[peerID], meterEntry{kind: kind, cycles: cycles, at: m.clock()})
}

// Usage returns the peer's cycles per kind within the retention window.
func (m *Meter) Usage(peerID string) map[CycleKind]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(peerID)

	usage := make(map[CycleKind]uint64)
	for _, e := range m.entries[peerID] {
		usage[e.kind] += e.cycles
	}
	return usage
}

// TotalCycles returns the peer's total cycles within the retention window.
func (m *Meter) TotalCycles(peerID string) uint64 {
	var total uint64
	for _, c := range m.Usage(peerID) {
		total += c
	}
	return total
}

func (m *Meter) pruneLocked(peerID string) {
	cutoff := m.clock().Add(-m.retention)
	entries := m.entries[peerID]
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(m.entries, peerID)
		return
	}
	m.entries[peerID] = kept
}
