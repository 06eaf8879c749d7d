/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"time"
)

// call is the pending result shared by every caller coalesced onto the same work.
type call struct {
	createdAt time.Time
	done      chan struct{}
	settled   bool // guarded by the Instance mutex
	val       interface{}
	err       error
}

func newCall(now time.Time) *call {
	return &call{createdAt: now, done: make(chan struct{})}
}

// settle publishes the outcome. Must be called once, under the Instance mutex.
func (c *call) settle(val interface{}, err error) {
	c.val, c.err = val, err
	c.settled = true
	close(c.done)
}

// wait blocks until the call is settled or ctx is done.
func (c *call) wait(ctx context.Context) (interface{}, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
