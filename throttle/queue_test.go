/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueue_Order(t *testing.T) {
	q := newPriorityQueue()
	for _, it := range []struct {
		key      string
		priority int
	}{{"low-1", 0}, {"high-1", 5}, {"mid", 1}, {"high-2", 5}, {"low-2", 0}} {
		q.Push(&queuedItem{key: it.key, priority: it.priority})
	}
	q.PushFront(&queuedItem{key: "retry-old", priority: -10})
	q.PushFront(&queuedItem{key: "retry-new", priority: -10})
	require.Equal(t, 7, q.Len())

	var keys []string
	for _, item := range q.Drain() {
		keys = append(keys, item.key)
	}
	require.Equal(t, []string{"retry-new", "retry-old", "high-1", "high-2", "mid", "low-1", "low-2"}, keys)
	require.Zero(t, q.Len())

	_, ok := q.Pop()
	require.False(t, ok)
}
