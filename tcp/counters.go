package tcp

import "sync/atomic"

// counters accumulates the few event totals worth exporting outside this
// package: every field is touched only with a single atomic add
// (checksumDrops before t.mu is taken, the others while it is held), so
// Counters can be read lock-free.
type counters struct {
	checksumDrops atomic.Uint64
	segmentDrops  atomic.Uint64
	resets        atomic.Uint64
}

// Counters is the read-only snapshot of Table.counters.
type Counters struct {
	ChecksumDrops uint64
	SegmentDrops  uint64
	Resets        uint64
}

// Counters returns the current event totals.
func (t *Table) Counters() Counters {
	return Counters{
		ChecksumDrops: t.ctr.checksumDrops.Load(),
		SegmentDrops:  t.ctr.segmentDrops.Load(),
		Resets:        t.ctr.resets.Load(),
	}
}
