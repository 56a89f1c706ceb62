package monitor

import (
	"sync"
	"time"

	"exitpro-engine/internal/model"
)

// dedupSet records trigger keys that have already fired. Keys are retained
// for a bounded window (pruned by bar timestamp) so the set cannot grow
// without limit over long runs while still guaranteeing at-most-once
// emission for any bar the monitor could re-evaluate.
type dedupSet struct {
	mu   sync.Mutex
	seen map[model.TriggerKey]time.Time // key → bar timestamp
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[model.TriggerKey]time.Time)}
}

// Mark records the key and returns true if it was not seen before.
// Check-and-set is atomic so concurrent symbol evaluations cannot both emit.
func (d *dedupSet) Mark(key model.TriggerKey, barTS time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = barTS
	return true
}

// Prune drops keys whose bar timestamp is before cutoff.
func (d *dedupSet) Prune(cutoff time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, k)
		}
	}
}

// Len returns the number of retained keys.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
