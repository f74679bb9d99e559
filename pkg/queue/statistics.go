package queue

import (
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. All counters are updated atomically.
type Statistics struct {
	enqueues atomic.Int64
	dequeues atomic.Int64
	drops    atomic.Int64
	maxSize  atomic.Int64

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) enqueue(size int64) {
	s.enqueues.Add(1)
	for {
		cur := s.maxSize.Load()
		if size <= cur || s.maxSize.CompareAndSwap(cur, size) {
			return
		}
	}
}

func (s *Statistics) dequeue() {
	s.dequeues.Add(1)
}

func (s *Statistics) drop() {
	s.drops.Add(1)
}

// Enqueues returns the total number of enqueued items.
func (s *Statistics) Enqueues() int64 {
	return s.enqueues.Load()
}

// Dequeues returns the total number of items handed to the consumer.
func (s *Statistics) Dequeues() int64 {
	return s.dequeues.Load()
}

// Drops returns the total number of items dropped on overflow.
func (s *Statistics) Drops() int64 {
	return s.drops.Load()
}

// MaxSize returns the largest backlog observed at enqueue time.
func (s *Statistics) MaxSize() int64 {
	return s.maxSize.Load()
}

// DropRate returns the share of enqueued items that were dropped (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	enq := s.Enqueues()
	if enq == 0 {
		return 0.0
	}
	return float64(s.Drops()) / float64(enq)
}

// Uptime returns how long the queue has existed.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSummary is a snapshot of queue statistics.
type StatsSummary struct {
	Enqueues    int64         `json:"enqueues"`
	Dequeues    int64         `json:"dequeues"`
	Drops       int64         `json:"drops"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}
