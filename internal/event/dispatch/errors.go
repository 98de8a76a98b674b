package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrAlreadyRunning is returned when Run is called on a loop that already ran.
	ErrAlreadyRunning = errors.New("loop is already running")

	// ErrNotRunning is returned when invocations are scheduled on a stopped loop.
	ErrNotRunning = errors.New("loop is not running")

	// ErrQueueFull is returned when the loop queue is full and cannot accept more tasks.
	ErrQueueFull = errors.New("task queue is full")
)
