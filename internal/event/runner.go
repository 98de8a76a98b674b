package event

import (
	"github.com/sourcegraph/conc/panics"
)

// InlineRunner returns a Runner that calls the consumer on the calling
// goroutine and converts a panic into an *InvocationError.
func InlineRunner() Runner {
	return inlineRunner{}
}

type inlineRunner struct{}

func (inlineRunner) Run(inv Invocation) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = inv.Callable.Call(inv.Ctx, inv.Args)
	})
	if r := pc.Recovered(); r != nil {
		return &InvocationError{
			Channel:  inv.Channel,
			Callable: inv.Name,
			Err:      ErrConsumerPanic,
			Panicked: true,
			Value:    r.Value,
			Stack:    r.Stack,
		}
	}
	return err
}
