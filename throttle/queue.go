/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/gammazero/deque"
	"github.com/rs/xid"
)

// queuedItem is a unit of work waiting for admission.
type queuedItem struct {
	id         xid.ID
	key        string
	priority   int
	seq        uint64
	enqueuedAt time.Time
	attempts   int
	ctx        context.Context
	fn         func(ctx context.Context) (interface{}, error)
	call       *call
}

// priorityQueue orders waiting work: retried items first (most recently requeued first),
// then by priority descending, then in submission order.
type priorityQueue struct {
	retries *deque.Deque
	heap    *binaryheap.Heap
	seq     uint64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		retries: deque.New(),
		heap:    binaryheap.NewWith(compareQueuedItems),
	}
}

// compareQueuedItems puts the item that must run first at the top of the heap.
func compareQueuedItems(a, b interface{}) int {
	x, y := a.(*queuedItem), b.(*queuedItem)
	switch {
	case x.priority > y.priority:
		return -1
	case x.priority < y.priority:
		return 1
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	}
	return 0
}

// Push adds a new item behind everything of the same or higher priority.
func (q *priorityQueue) Push(item *queuedItem) {
	q.seq++
	item.seq = q.seq
	q.heap.Push(item)
}

// PushFront puts an item ahead of everything else.
func (q *priorityQueue) PushFront(item *queuedItem) {
	q.retries.PushFront(item)
}

// Pop removes and returns the next item to run.
func (q *priorityQueue) Pop() (*queuedItem, bool) {
	if q.retries.Len() > 0 {
		return q.retries.PopFront().(*queuedItem), true
	}
	v, ok := q.heap.Pop()
	if !ok {
		return nil, false
	}
	return v.(*queuedItem), true
}

// Len returns the number of waiting items.
func (q *priorityQueue) Len() int {
	return q.retries.Len() + q.heap.Size()
}

// Drain removes and returns all waiting items in run order.
func (q *priorityQueue) Drain() []*queuedItem {
	items := make([]*queuedItem, 0, q.Len())
	for {
		item, ok := q.Pop()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}
