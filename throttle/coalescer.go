/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/acronis/go-callthrottle/lrucache"
)

// coalescer maps keys to calls that new requests for the same key may join.
// Pending calls are kept outside the LRU so capacity eviction never detaches them;
// settled calls move to the LRU for their grace period.
// It is accessed under the Instance mutex.
type coalescer struct {
	window  time.Duration
	grace   time.Duration
	pending map[string]*call
	settled *lrucache.LRUCache[string, *call]
}

func newCoalescer(cfg CoalesceConfig, clock clockwork.Clock, metrics lrucache.MetricsCollector) (*coalescer, error) {
	settled, err := lrucache.NewWithOpts[string, *call](cfg.MaxKeys, metrics, lrucache.Options{Clock: clock})
	if err != nil {
		return nil, err
	}
	return &coalescer{window: cfg.Window, grace: cfg.Grace, pending: make(map[string]*call), settled: settled}, nil
}

// lookup returns a call that a request arriving at now may join.
// A pending call is always joinable; a settled one only within the window since its creation.
func (c *coalescer) lookup(key string, now time.Time) (*call, bool) {
	if existing, ok := c.pending[key]; ok {
		return existing, true
	}
	existing, ok := c.settled.Get(key)
	if !ok {
		return nil, false
	}
	if now.Sub(existing.createdAt) < c.window {
		return existing, true
	}
	return nil, false
}

// store makes cl the pending entry for key.
func (c *coalescer) store(key string, cl *call) {
	c.pending[key] = cl
}

// release moves a settled call into its grace period, unless it no longer owns the key.
func (c *coalescer) release(key string, cl *call) {
	if c.pending[key] != cl {
		return
	}
	delete(c.pending, key)
	if c.grace <= 0 {
		c.settled.Remove(key)
		return
	}
	c.settled.AddWithTTL(key, cl, c.grace)
}

// forget drops the entry for key if it still belongs to cl.
func (c *coalescer) forget(key string, cl *call) {
	if c.pending[key] == cl {
		delete(c.pending, key)
		return
	}
	c.settled.RemoveIf(key, func(v *call) bool { return v == cl })
}

func (c *coalescer) len() int {
	return len(c.pending) + c.settled.Len()
}
