// Package dispatch provides the bounded, priority-ordered work queue that
// feeds pipeline workers.
package dispatch

import (
	"container/heap"
	"context"
	"sync"

	"github.com/subscout/subscout/internal/model"
)

// DefaultCapacity bounds the queue when no explicit capacity is given.
// Anything beyond it stays PENDING in storage and is picked up by a later
// scan, so rejection is backpressure rather than loss.
const DefaultCapacity = 1024

const tierCount = 3

// Dispatcher is a single logical queue partitioned into three priority tiers.
// Dequeue prefers high over normal over low, and the oldest message within a
// tier. It is safe for concurrent use by many workers.
type Dispatcher struct {
	wake  chan struct{}
	tiers [tierCount]recordHeap
	size  int
	cap   int
	mu    sync.Mutex
}

// New creates a dispatcher bounded to the given capacity. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Dispatcher{
		cap:  capacity,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue adds a record to its priority tier and reports whether it was
// accepted. A full queue rejects the record.
func (d *Dispatcher) Enqueue(record *model.EmailRecord) bool {
	if record == nil {
		return false
	}

	d.mu.Lock()
	if d.size >= d.cap {
		d.mu.Unlock()
		return false
	}
	heap.Push(&d.tiers[tierOf(record.Priority)], record)
	d.size++
	d.mu.Unlock()

	d.signal()
	return true
}

// Next blocks until a record is available or the context is cancelled, then
// returns exactly one record. No record is ever handed to two callers. The
// wait is satisfied by an enqueue signal, not by polling.
func (d *Dispatcher) Next(ctx context.Context) (*model.EmailRecord, error) {
	for {
		if record := d.pop(); record != nil {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.wake:
		}
	}
}

// Len reports how many records are queued across all tiers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// pop removes the best available record, or returns nil when the queue is
// empty. When records remain after a pop it re-raises the wake signal, since
// a single enqueue signal may stand for several queued records.
func (d *Dispatcher) pop() *model.EmailRecord {
	d.mu.Lock()
	for tier := range d.tiers {
		if d.tiers[tier].Len() == 0 {
			continue
		}
		record, _ := heap.Pop(&d.tiers[tier]).(*model.EmailRecord)
		d.size--
		remaining := d.size
		d.mu.Unlock()

		if remaining > 0 {
			d.signal()
		}
		return record
	}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func tierOf(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 0
	case model.PriorityLow:
		return 2
	default:
		return 1
	}
}

// recordHeap is a min-heap on ReceivedAt, so the oldest message in a tier is
// dequeued first.
type recordHeap []*model.EmailRecord

func (h recordHeap) Len() int           { return len(h) }
func (h recordHeap) Less(i, j int) bool { return h[i].ReceivedAt.Before(h[j].ReceivedAt) }
func (h recordHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x any)        { *h = append(*h, x.(*model.EmailRecord)) }

func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	record := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return record
}
