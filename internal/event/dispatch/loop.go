package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/dshills/boardlink/internal/event"
)

// Loop is a single-goroutine cooperative runtime for asynchronous consumers.
// It implements event.Scheduler.
//
// Schedule may be called from any goroutine and never blocks. Accepted
// invocations run in FIFO order on the goroutine that called Run. Consumers
// implementing event.Resumable are stepped; a suspended task is parked until
// its wait elapses while other work keeps running.
type Loop struct {
	queueSize int
	logger    zerolog.Logger
	executor  *Executor

	queue chan event.Invocation

	// mu orders Schedule against closing, so nothing lands in the queue
	// after shutdown has emptied it.
	mu        sync.RWMutex
	closed    atomic.Bool
	started   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	drain     chan struct{}
	drainOnce sync.Once
	done      chan struct{}

	// owned by the Run goroutine
	parked taskHeap
	seq    uint64

	// Stats
	enqueued    atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	dropped     atomic.Uint64
	discarded   atomic.Uint64
	parkedCount atomic.Int64
	totalTimeNs atomic.Int64
}

var _ event.Scheduler = (*Loop)(nil)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithQueueSize sets the task queue size.
func WithQueueSize(size int) LoopOption {
	return func(l *Loop) {
		if size > 0 {
			l.queueSize = size
		}
	}
}

// WithLogger sets the logger for task failures.
func WithLogger(logger zerolog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a loop. It accepts invocations immediately; they run once
// Run is called.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		queueSize: 1024,
		logger:    zerolog.Nop(),
		executor:  NewExecutor(),
		stop:      make(chan struct{}),
		drain:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.queue = make(chan event.Invocation, l.queueSize)
	return l
}

// Schedule implements event.Scheduler.
// Returns ErrQueueFull if the queue is at capacity and ErrNotRunning once
// the loop has stopped or started draining.
func (l *Loop) Schedule(inv event.Invocation) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed.Load() {
		return ErrNotRunning
	}

	select {
	case l.queue <- inv:
		l.enqueued.Add(1)
		return nil
	default:
		l.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drives the loop on the calling goroutine until ctx is cancelled, Stop
// is called, or a Drain completes. Suspended tasks still parked are aborted
// and invocations still queued are discarded with a warning when it returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.shutdown()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	drain := l.drain
	draining := false
	for {
		if draining && len(l.queue) == 0 && l.parked.Len() == 0 {
			return nil
		}
		select {
		case <-l.stop:
			return nil
		default:
		}

		var wake <-chan time.Time
		if next := l.parked.peek(); next != nil {
			timer.Reset(time.Until(next.due))
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-drain:
			draining = true
			drain = nil
		case inv := <-l.queue:
			l.run(inv)
		case <-wake:
			l.resumeDue()
		}
	}
}

// Stop asks Run to return. Safe to call more than once and before Run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.refuse()
		close(l.stop)
	})
}

// Drain stops accepting invocations and lets Run return once everything
// already accepted has run, including parked tasks. Stop or ctx still end
// Run early. Safe to call more than once and before Run.
func (l *Loop) Drain() {
	l.drainOnce.Do(func() {
		l.refuse()
		close(l.drain)
	})
}

func (l *Loop) refuse() {
	l.mu.Lock()
	l.closed.Store(true)
	l.mu.Unlock()
}

// Done returns a channel closed after Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// QueueDepth returns the number of invocations waiting to run.
func (l *Loop) QueueDepth() int {
	return len(l.queue)
}

func (l *Loop) run(inv event.Invocation) {
	l.processed.Add(1)

	if r, ok := inv.Callable.(event.Resumable); ok {
		l.start(inv, r)
		return
	}

	var result Result
	withExclusion(inv, func() {
		result = l.executor.Execute(inv)
	})
	l.totalTimeNs.Add(result.Duration.Nanoseconds())
	l.record(inv, result)
}

func (l *Loop) start(inv event.Invocation, r event.Resumable) {
	ctx := invocationContext(inv)

	var task event.Task
	var err error
	var pc panics.Catcher
	withExclusion(inv, func() {
		pc.Try(func() {
			task, err = r.Start(ctx, inv.Args)
		})
	})
	if rec := pc.Recovered(); rec != nil {
		l.record(inv, Result{Panicked: true, PanicValue: rec.Value, PanicStack: rec.Stack})
		return
	}
	if err != nil {
		l.record(inv, Result{Error: err})
		return
	}
	l.step(&parkedTask{inv: inv, task: task})
}

// step advances a task and either finishes or parks it.
func (l *Loop) step(pt *parkedTask) {
	ctx := invocationContext(pt.inv)
	start := time.Now()

	var (
		wait time.Duration
		done bool
		err  error
	)
	var pc panics.Catcher
	withExclusion(pt.inv, func() {
		pc.Try(func() {
			wait, done, err = pt.task.Step(ctx)
		})
	})
	l.totalTimeNs.Add(time.Since(start).Nanoseconds())

	if rec := pc.Recovered(); rec != nil {
		withExclusion(pt.inv, pt.task.Abort)
		l.record(pt.inv, Result{Panicked: true, PanicValue: rec.Value, PanicStack: rec.Stack})
		return
	}
	if err != nil {
		l.record(pt.inv, Result{Error: err})
		return
	}
	if done {
		l.record(pt.inv, Result{Success: true})
		return
	}

	if wait < 0 {
		wait = 0
	}
	l.seq++
	pt.due = time.Now().Add(wait)
	pt.seq = l.seq
	heap.Push(&l.parked, pt)
	l.parkedCount.Store(int64(l.parked.Len()))
}

func (l *Loop) resumeDue() {
	now := time.Now()
	for {
		next := l.parked.peek()
		if next == nil || next.due.After(now) {
			break
		}
		pt := heap.Pop(&l.parked).(*parkedTask)
		l.parkedCount.Store(int64(l.parked.Len()))
		l.step(pt)
	}
}

func (l *Loop) record(inv event.Invocation, result Result) {
	switch {
	case result.Skipped:
		l.failed.Add(1)
		l.logger.Debug().
			Str("channel", inv.Channel).
			Str("consumer", inv.Name).
			Msg("async consumer skipped")
	case result.Panicked:
		l.panicked.Add(1)
		l.logger.Error().
			Str("channel", inv.Channel).
			Str("consumer", inv.Name).
			Interface("panic", result.PanicValue).
			Bytes("stack", result.PanicStack).
			Msg("async consumer panicked")
	case result.Error != nil:
		l.failed.Add(1)
		l.logger.Error().
			Err(result.Error).
			Str("channel", inv.Channel).
			Str("consumer", inv.Name).
			Msg("async consumer failed")
	default:
		l.succeeded.Add(1)
	}
}

func (l *Loop) shutdown() {
	l.refuse()
	defer close(l.done)

	aborted := l.parked.Len()
	for l.parked.Len() > 0 {
		pt := heap.Pop(&l.parked).(*parkedTask)
		withExclusion(pt.inv, pt.task.Abort)
	}
	l.parkedCount.Store(0)

	var discarded uint64
	for len(l.queue) > 0 {
		<-l.queue
		discarded++
	}
	l.discarded.Add(discarded)

	if discarded > 0 || aborted > 0 {
		l.logger.Warn().
			Uint64("queued", discarded).
			Int("parked", aborted).
			Msg("async consumers discarded at shutdown")
	}
}

func withExclusion(inv event.Invocation, fn func()) {
	if inv.Exclusion != nil {
		inv.Exclusion.Lock()
		defer inv.Exclusion.Unlock()
	}
	fn()
}

func invocationContext(inv event.Invocation) context.Context {
	if inv.Ctx != nil {
		return inv.Ctx
	}
	return context.Background()
}

// Stats returns loop statistics.
func (l *Loop) Stats() LoopStats {
	processed := l.processed.Load()
	totalNs := l.totalTimeNs.Load()

	var avgNs int64
	if processed > 0 {
		avgNs = totalNs / int64(processed)
	}

	return LoopStats{
		Enqueued:      l.enqueued.Load(),
		Processed:     processed,
		Succeeded:     l.succeeded.Load(),
		Failed:        l.failed.Load(),
		Panicked:      l.panicked.Load(),
		Dropped:       l.dropped.Load(),
		Discarded:     l.discarded.Load(),
		Parked:        int(l.parkedCount.Load()),
		QueueDepth:    l.QueueDepth(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}

// LoopStats contains statistics for a loop.
type LoopStats struct {
	// Enqueued is the number of accepted invocations.
	Enqueued uint64

	// Processed is the number of invocations taken off the queue.
	Processed uint64

	// Succeeded is the number of consumers that finished without error.
	Succeeded uint64

	// Failed is the number of consumers that returned errors or were skipped.
	Failed uint64

	// Panicked is the number of consumers that panicked.
	Panicked uint64

	// Dropped is the number of invocations refused because the queue was full.
	Dropped uint64

	// Discarded is the number of accepted invocations that never ran because
	// the loop stopped first.
	Discarded uint64

	// Parked is the number of suspended tasks waiting to resume.
	Parked int

	// QueueDepth is the number of invocations waiting in the queue.
	QueueDepth int

	// TotalDuration is the cumulative time spent running consumers.
	TotalDuration time.Duration

	// AvgDuration is the average time per processed invocation.
	AvgDuration time.Duration
}
