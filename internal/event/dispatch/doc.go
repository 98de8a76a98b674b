// Package dispatch runs the consumers an event channel delivers to.
//
// # Runners
//
//   - SyncDispatcher: runs synchronous consumers on the publishing goroutine
//     with panic recovery and counters. It implements event.Runner.
//
//   - Loop: a single-goroutine cooperative runtime for asynchronous
//     consumers. It implements event.Scheduler: Schedule never blocks, and
//     accepted invocations run in order on the goroutine that called Run.
//
// # Panic Recovery
//
// A panicking consumer never takes down the worker or the loop. Panics are
// converted to results and reported via a configurable PanicHandler.
//
// # Resumable consumers
//
// A consumer implementing event.Resumable is started as an event.Task. Each
// Step runs it until it suspends; the loop parks it on a timer heap and
// keeps serving other invocations until the wait has elapsed.
//
// # Usage
//
//	loop := dispatch.NewLoop(dispatch.WithQueueSize(256), dispatch.WithLogger(log))
//	ch := event.NewChannel("can1", shape,
//	    event.WithRunner(dispatch.NewSyncDispatcher()),
//	    event.WithScheduler(loop),
//	)
//	go publishFromDevice(ch)
//	_ = loop.Run(ctx) // spin until ctx is cancelled
package dispatch
