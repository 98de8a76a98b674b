package script

import "errors"

// Errors for Lua VM operations.
var (
	// ErrVMClosed is returned when operating on a closed VM.
	ErrVMClosed = errors.New("lua vm is closed")

	// ErrExecutionTimeout is returned when a script or consumer exceeds its time budget.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotLuaFunction is returned when a consumer is not a Lua-defined function.
	ErrNotLuaFunction = errors.New("not a lua function")

	// ErrUnknownChannel is returned when a script names a channel the board does not have.
	ErrUnknownChannel = errors.New("unknown channel")
)
