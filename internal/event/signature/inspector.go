package signature

import (
	"fmt"

	"github.com/dshills/boardlink/internal/event"
)

// Inspector returns an event.Inspector for callables created by Of and Async.
func Inspector() event.Inspector {
	return event.InspectorFunc(func(c event.Callable) (event.Signature, error) {
		f, ok := c.(*Func)
		if !ok {
			return event.Signature{}, fmt.Errorf("%w: %T", event.ErrUnsupportedCallable, c)
		}
		return f.Signature()
	})
}
