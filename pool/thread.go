package pool

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/c360/dataports/errors"
	"github.com/c360/dataports/metric"
)

var threadIDs atomic.Uint64

type typedPool interface {
	close()
	Stats() Stats
}

// Thread is the per-goroutine cache of buffer pools and auto-locks.
// A Thread must only be used by the goroutine that created it.
type Thread struct {
	id     uint64
	name   string
	pools  map[uint16]typedPool
	locks  []Lock
	closed bool

	metrics *metric.Metrics
	logger  *slog.Logger
}

// ThreadOption configures a Thread
type ThreadOption func(*Thread)

// WithMetrics reports pool activity to m
func WithMetrics(m *metric.Metrics) ThreadOption {
	return func(th *Thread) {
		th.metrics = m
	}
}

// WithLogger sets the logger used for lifecycle messages
func WithLogger(l *slog.Logger) ThreadOption {
	return func(th *Thread) {
		if l != nil {
			th.logger = l
		}
	}
}

// NewThread creates the cache for one worker goroutine
func NewThread(name string, opts ...ThreadOption) *Thread {
	th := &Thread{
		id:     threadIDs.Add(1),
		name:   name,
		pools:  make(map[uint16]typedPool),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(th)
		}
	}
	return th
}

// ID returns the process-unique thread identifier
func (th *Thread) ID() uint64 { return th.id }

// Name returns the thread name
func (th *Thread) Name() string { return th.name }

// Metrics returns the metrics sink of the thread, possibly nil
func (th *Thread) Metrics() *metric.Metrics { return th.metrics }

// Closed reports whether Close has been called
func (th *Thread) Closed() bool { return th.closed }

func (th *Thread) checkOpen(method string) {
	if th == nil {
		errors.Misuse("Thread", method, "nil thread")
	}
	if th.closed {
		errors.Misuse("Thread", method, "thread %q used after Close", th.name)
	}
}

// AddAutoLock registers a reference to be released by the next ReleaseAllLocks
func (th *Thread) AddAutoLock(l Lock) {
	th.checkOpen("AddAutoLock")
	th.locks = append(th.locks, l)
}

// AutoLockCount returns the number of pending auto-locks
func (th *Thread) AutoLockCount() int {
	return len(th.locks)
}

// ReleaseAllLocks releases every auto-lock added since the last call and
// returns how many were released. Typically called once per cycle.
func (th *Thread) ReleaseAllLocks() int {
	n := len(th.locks)
	for i, l := range th.locks {
		l.Release()
		th.locks[i] = nil
	}
	th.locks = th.locks[:0]
	return n
}

// Stats returns a snapshot of every pool of the thread, ordered by type name
func (th *Thread) Stats() []Stats {
	stats := make([]Stats, 0, len(th.pools))
	for _, p := range th.pools {
		stats = append(stats, p.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Type < stats[j].Type })
	return stats
}

// Close releases pending auto-locks and closes all pools. Buffers that are
// still referenced elsewhere are handed to their type arena and freed when
// their last reference goes away.
func (th *Thread) Close() {
	if th.closed {
		return
	}
	released := th.ReleaseAllLocks()
	for _, p := range th.pools {
		p.close()
	}
	th.closed = true
	th.logger.Debug("Thread closed", "thread", th.name, "id", th.id, "released_locks", released)
}
