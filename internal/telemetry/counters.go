package telemetry

import (
	"sync"

	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// Counters tallies activity by kind since process start.
type Counters struct {
	mu     sync.Mutex
	counts map[relay.ActivityKind]uint64
}

// NewCounters creates an empty tally.
func NewCounters() *Counters {
	return &Counters{counts: make(map[relay.ActivityKind]uint64)}
}

// Observe implements relay.Observer.
func (c *Counters) Observe(a relay.Activity) {
	c.mu.Lock()
	c.counts[a.Kind]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the counts keyed by activity kind.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[string(k)] = v
	}
	return out
}
