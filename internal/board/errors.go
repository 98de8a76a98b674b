package board

import (
	"errors"
	"fmt"
)

// Sentinel errors for boards.
var (
	// ErrTransport is matched by every transport failure that stopped a board.
	ErrTransport = errors.New("transport failure")

	// ErrClosed is returned when registering on a closed board.
	ErrClosed = errors.New("board is closed")

	// ErrNilTransport is returned by New without a transport.
	ErrNilTransport = errors.New("transport cannot be nil")
)

// TransportError records why a board's worker stopped on its own.
type TransportError struct {
	Board string
	Err   error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("board %s: transport failure: %v", e.Board, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match TransportError with ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
