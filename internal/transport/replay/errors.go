package replay

import (
	"errors"
	"fmt"
)

// Sentinel errors for recordings.
var (
	ErrMalformed      = errors.New("malformed record")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrMissingField   = errors.New("missing field")
)

// ParseError reports a bad line in a recording.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("recording line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
