package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/dshills/boardlink/internal/event"
)

// SyncDispatcher runs synchronous consumers in the caller's goroutine and
// keeps counters. It implements event.Runner.
type SyncDispatcher struct {
	executor *Executor
	timeout  time.Duration

	// Stats
	dispatched  atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	skipped     atomic.Uint64
	totalTimeNs atomic.Int64
}

var _ event.Runner = (*SyncDispatcher)(nil)

// NewSyncDispatcher creates a new synchronous dispatcher.
func NewSyncDispatcher(opts ...SyncOption) *SyncDispatcher {
	d := &SyncDispatcher{
		executor: NewExecutor(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SyncOption configures a SyncDispatcher.
type SyncOption func(*SyncDispatcher)

// WithPanicHandler sets the panic handler for the dispatcher.
func WithPanicHandler(h PanicHandler) SyncOption {
	return func(d *SyncDispatcher) {
		d.executor = NewExecutor(WithExecutorPanicHandler(h))
	}
}

// WithTimeout sets a deadline applied to each consumer's context.
func WithTimeout(timeout time.Duration) SyncOption {
	return func(d *SyncDispatcher) {
		d.timeout = timeout
	}
}

// Dispatch executes one invocation synchronously.
func (d *SyncDispatcher) Dispatch(inv event.Invocation) Result {
	d.dispatched.Add(1)

	result := d.executor.ExecuteWithTimeout(inv, d.timeout)

	d.totalTimeNs.Add(result.Duration.Nanoseconds())
	switch {
	case result.Skipped:
		d.skipped.Add(1)
	case result.Panicked:
		d.panicked.Add(1)
	case result.Error != nil:
		d.failed.Add(1)
	case result.Success:
		d.succeeded.Add(1)
	}

	return result
}

// Run implements event.Runner.
func (d *SyncDispatcher) Run(inv event.Invocation) error {
	return d.Dispatch(inv).Err(inv)
}

// Stats returns dispatch statistics.
// Stats are read without a mutex, so values may be slightly inconsistent
// while dispatches are in flight.
func (d *SyncDispatcher) Stats() SyncDispatcherStats {
	dispatched := d.dispatched.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if dispatched > 0 {
		avgNs = totalNs / int64(dispatched)
	}

	return SyncDispatcherStats{
		Dispatched:    dispatched,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Skipped:       d.skipped.Load(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// SyncDispatcherStats contains statistics for a sync dispatcher.
type SyncDispatcherStats struct {
	// Dispatched is the total number of dispatch calls.
	Dispatched uint64

	// Succeeded is the number of successful consumer executions.
	Succeeded uint64

	// Failed is the number of consumers that returned errors.
	Failed uint64

	// Panicked is the number of consumers that panicked.
	Panicked uint64

	// Skipped is the number of consumers skipped because the context was done.
	Skipped uint64

	// TotalDuration is the cumulative time spent in consumers.
	TotalDuration time.Duration

	// AvgDuration is the average consumer execution time.
	AvgDuration time.Duration
}
