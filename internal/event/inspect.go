package event

import (
	"context"
	"errors"
	"fmt"
)

// Described is a callable that carries its own signature.
type Described interface {
	Callable
	Signature() Signature
}

// Describe attaches a signature to fn.
func Describe(fn CallableFunc, sig Signature) Described {
	return &described{fn: fn, sig: sig}
}

type described struct {
	fn  CallableFunc
	sig Signature
}

func (d *described) Call(ctx context.Context, args Args) error { return d.fn(ctx, args) }
func (d *described) Signature() Signature                      { return d.sig }

// SelfInspector returns an inspector that understands Described callables.
func SelfInspector() Inspector {
	return InspectorFunc(func(c Callable) (Signature, error) {
		d, ok := c.(Described)
		if !ok {
			return Signature{}, fmt.Errorf("%w: %T", ErrUnsupportedCallable, c)
		}
		return d.Signature(), nil
	})
}

// Inspectors tries each inspector in order and returns the first signature
// whose inspector does not report ErrUnsupportedCallable.
func Inspectors(list ...Inspector) Inspector {
	return InspectorFunc(func(c Callable) (Signature, error) {
		for _, in := range list {
			if in == nil {
				continue
			}
			sig, err := in.Inspect(c)
			if errors.Is(err, ErrUnsupportedCallable) {
				continue
			}
			return sig, err
		}
		return Signature{}, fmt.Errorf("%w: %T", ErrUnsupportedCallable, c)
	})
}
