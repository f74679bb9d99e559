package queue

import (
	"runtime"
	"sync/atomic"

	"github.com/c360/dataports/errors"
)

// Node carries one queued item. Nodes are recycled through a NodeCache.
type Node[E any] struct {
	item E
}

// NodeCache supplies and takes back queue nodes. Implementations are owned by
// one goroutine and need not be safe for concurrent use.
type NodeCache[E any] interface {
	GetNode() *Node[E]
	PutNode(n *Node[E])
}

// HeapNodes is a NodeCache that always allocates and lets the GC reclaim
// returned nodes.
type HeapNodes[E any] struct{}

// GetNode allocates a fresh node
func (HeapNodes[E]) GetNode() *Node[E] { return new(Node[E]) }

// PutNode discards n
func (HeapNodes[E]) PutNode(*Node[E]) {}

// Queue is a bounded multi-producer single-consumer queue that drops the
// oldest items on overflow.
//
// Writers reserve a sequence number and install their node in the ring slot
// seq % capacity. A slot holding an older node is overwritten and the old item
// dropped; a slot already tagged with a newer sequence means the writer itself
// lost the race and its item is dropped instead.
type Queue[E any] struct {
	slots    []slot[E]
	capacity uint64

	tail atomic.Uint64 // next sequence to reserve
	head atomic.Uint64 // next sequence to consume; written by the consumer only

	stats   *Statistics
	metrics *queueMetrics
	opts    *queueOptions[E]
}

const (
	slotClaimed uint64 = 1 << iota
	slotFull
)

const slotFlagBits = 2

// slot is one ring entry. state packs the sequence of the last installed node
// with the full and claimed bits. Sequences in a slot only grow, so a state
// word never repeats and a node pointer recycled through a NodeCache cannot be
// mistaken for the one it replaced. node is only touched by the goroutine that
// set slotClaimed.
type slot[E any] struct {
	state atomic.Uint64
	node  *Node[E]
}

func (s *slot[E]) claim() uint64 {
	for {
		st := s.state.Load()
		if st&slotClaimed == 0 && s.state.CompareAndSwap(st, st|slotClaimed) {
			return st
		}
		runtime.Gosched()
	}
}

func (s *slot[E]) publish(seq uint64, full bool) {
	st := seq << slotFlagBits
	if full {
		st |= slotFull
	}
	s.state.Store(st)
}

func slotSeq(st uint64) uint64 { return st >> slotFlagBits }

// New creates a queue holding at most capacity items.
// Returns an error if metrics registration fails when requested.
func New[E any](capacity int, options ...Option[E]) (*Queue[E], error) {
	if capacity <= 0 {
		capacity = 1
	}
	opts := applyOptions(options...)

	var metrics *queueMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "New", "metrics registration")
		}
	}

	return &Queue[E]{
		slots:    make([]slot[E], capacity),
		capacity: uint64(capacity),
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Capacity returns the maximum number of retained items
func (q *Queue[E]) Capacity() int {
	return int(q.capacity)
}

// Len returns the approximate number of items waiting
func (q *Queue[E]) Len() int {
	n := q.tail.Load() - q.head.Load()
	if int64(n) < 0 {
		return 0
	}
	if n > q.capacity {
		n = q.capacity
	}
	return int(n)
}

// Enqueue appends item. It never blocks; if the queue is full the oldest item
// is dropped and handed to the drop callback.
func (q *Queue[E]) Enqueue(nc NodeCache[E], item E) {
	n := nc.GetNode()
	n.item = item

	seq := q.tail.Add(1) - 1
	sl := &q.slots[seq%q.capacity]

	st := sl.claim()
	if slotSeq(st) > seq {
		sl.state.Store(st)
		q.dropNode(nc, n)
	} else {
		var old *Node[E]
		if st&slotFull != 0 {
			old = sl.node
		}
		sl.node = n
		sl.publish(seq, true)
		if old != nil {
			q.dropNode(nc, old)
		}
	}

	size := int64(q.Len())
	q.stats.enqueue(size)
	q.metrics.recordEnqueue(size)
}

func (q *Queue[E]) dropNode(nc NodeCache[E], n *Node[E]) {
	item := n.item
	var zero E
	n.item = zero
	nc.PutNode(n)

	q.stats.drop()
	q.metrics.recordDrop()
	if q.opts.dropCallback != nil {
		q.opts.dropCallback(item)
	}
}

// DequeueSingle removes and returns the oldest available item. Must only be
// called from the single consumer. Items overwritten by writers are skipped.
func (q *Queue[E]) DequeueSingle(nc NodeCache[E]) (E, bool) {
	var zero E
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if head >= tail {
			return zero, false
		}
		if tail-head > q.capacity {
			// Everything before tail-capacity has been or will be overwritten.
			q.head.Store(tail - q.capacity)
			continue
		}

		sl := &q.slots[head%q.capacity]
		st := sl.state.Load()
		if st&slotClaimed != 0 {
			runtime.Gosched()
			continue
		}
		if st&slotFull == 0 {
			// Writer holding this sequence has not installed its node yet.
			return zero, false
		}
		seq := slotSeq(st)
		switch {
		case seq < head:
			return zero, false
		case seq > head:
			q.head.Store(head + 1)
			continue
		}

		if !sl.state.CompareAndSwap(st, st|slotClaimed) {
			continue
		}
		n := sl.node
		sl.node = nil
		sl.publish(seq, false)
		q.head.Store(head + 1)

		item := n.item
		n.item = zero
		nc.PutNode(n)

		q.stats.dequeue()
		q.metrics.recordDequeue(int64(q.Len()))
		return item, true
	}
}

// DequeueAll moves every available item into frag in queue order and returns
// how many were added. Must only be called from the single consumer.
func (q *Queue[E]) DequeueAll(nc NodeCache[E], frag *Fragment[E]) int {
	count := 0
	for {
		item, ok := q.DequeueSingle(nc)
		if !ok {
			return count
		}
		frag.items = append(frag.items, item)
		count++
	}
}

// Clear drops every queued item through the drop callback. Must not race with
// writers; used when the owning port is deleted.
func (q *Queue[E]) Clear(nc NodeCache[E]) {
	for i := range q.slots {
		sl := &q.slots[i]
		st := sl.claim()
		n := sl.node
		sl.node = nil
		sl.publish(slotSeq(st), false)
		if st&slotFull != 0 && n != nil {
			q.dropNode(nc, n)
		}
	}
	q.head.Store(q.tail.Load())
}

// Stats returns the always-on statistics of the queue
func (q *Queue[E]) Stats() *Statistics {
	return q.stats
}

// Summary returns a snapshot of the queue statistics
func (q *Queue[E]) Summary() StatsSummary {
	return StatsSummary{
		Enqueues:    q.stats.Enqueues(),
		Dequeues:    q.stats.Dequeues(),
		Drops:       q.stats.Drops(),
		CurrentSize: int64(q.Len()),
		MaxSize:     q.stats.MaxSize(),
		DropRate:    q.stats.DropRate(),
		Uptime:      q.stats.Uptime(),
	}
}

// Fragment is a caller-owned batch filled by DequeueAll
type Fragment[E any] struct {
	items []E
}

// Len returns the number of items in the fragment
func (f *Fragment[E]) Len() int {
	return len(f.items)
}

// At returns the i-th item, oldest first
func (f *Fragment[E]) At(i int) E {
	return f.items[i]
}

// Items returns the fragment contents. The slice is reused after Reset.
func (f *Fragment[E]) Items() []E {
	return f.items
}

// Reset empties the fragment while keeping its storage
func (f *Fragment[E]) Reset() {
	var zero E
	for i := range f.items {
		f.items[i] = zero
	}
	f.items = f.items[:0]
}
