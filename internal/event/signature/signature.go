// Package signature adapts plain Go functions to event callables.
//
// A consumer declares the parameters it wants as tagged fields of a struct:
//
//	type frame struct {
//		ID     uint32 `event:"can_id"`
//		Remote bool   `event:"is_remote_transmission"`
//		Gain   int    `event:"gain,optional"`
//	}
//
//	b.OnCAN1Receive(signature.Of(func(f frame) { ... }))
//
// Supported forms are func(T), func(ctx, T), func(), func(ctx), each
// optionally returning error. Fields marked optional have a default (their
// zero value) and may name parameters the channel does not carry. A number
// binds to a field of another numeric kind only when its value fits.
package signature

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"strings"

	"github.com/dshills/boardlink/internal/event"
)

const tagName = "event"

// ErrInvalidFunc is returned for functions of an unsupported form.
var ErrInvalidFunc = errors.New("invalid consumer function")

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

type field struct {
	name     string
	index    int
	optional bool
}

// Func is a Go function usable as an event.Callable.
type Func struct {
	fn      reflect.Value
	name    string
	async   bool
	err     error
	hasCtx  bool
	retErr  bool
	argType reflect.Type
	fields  []field
}

var _ event.Callable = (*Func)(nil)

// Of wraps fn. An fn of an unsupported form is reported when the result is
// registered, not here.
func Of(fn any) *Func {
	f, err := parse(fn)
	if err != nil {
		return &Func{name: funcName(fn), err: err}
	}
	return f
}

// Async wraps fn like Of and marks it to run on the scheduler.
func Async(fn any) *Func {
	f := Of(fn)
	f.async = true
	return f
}

// Named overrides the display name used in errors and logs.
func (f *Func) Named(name string) *Func {
	f.name = name
	return f
}

// Name returns the display name.
func (f *Func) Name() string {
	return f.name
}

// Signature reports the declared parameters.
func (f *Func) Signature() (event.Signature, error) {
	if f.err != nil {
		return event.Signature{Name: f.name}, f.err
	}
	params := make([]event.Parameter, len(f.fields))
	for i, fd := range f.fields {
		params[i] = event.Parameter{Name: fd.name, HasDefault: fd.optional}
	}
	return event.Signature{Name: f.name, Params: params, Async: f.async}, nil
}

// Call implements event.Callable.
func (f *Func) Call(ctx context.Context, args event.Args) error {
	if f.err != nil {
		return f.err
	}

	in := make([]reflect.Value, 0, 2)
	if f.hasCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
	}
	if f.argType != nil {
		v, err := f.bind(args)
		if err != nil {
			return err
		}
		in = append(in, v)
	}

	out := f.fn.Call(in)
	if f.retErr && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

func (f *Func) bind(args event.Args) (reflect.Value, error) {
	v := reflect.New(f.argType).Elem()
	for _, fd := range f.fields {
		raw, ok := args.Get(fd.name)
		if !ok || raw == nil {
			continue
		}
		dst := v.Field(fd.index)
		src := reflect.ValueOf(raw)
		switch {
		case src.Type().AssignableTo(dst.Type()):
			dst.Set(src)
		case src.Type().ConvertibleTo(dst.Type()) && convertible(src.Kind(), dst.Kind()):
			if !fits(src, dst) {
				return reflect.Value{}, fmt.Errorf("%s: parameter %q: %v does not fit in %s",
					f.name, fd.name, raw, dst.Type())
			}
			dst.Set(src.Convert(dst.Type()))
		default:
			return reflect.Value{}, fmt.Errorf("%s: parameter %q: cannot use %s as %s",
				f.name, fd.name, src.Type(), dst.Type())
		}
	}
	return v, nil
}

// convertible limits reflect conversions to numbers and string/bytes, so a
// bool never silently becomes a number.
func convertible(src, dst reflect.Kind) bool {
	return (isNumber(src) && isNumber(dst)) ||
		(src == reflect.Slice && dst == reflect.String) ||
		(src == reflect.String && dst == reflect.Slice)
}

// fits reports whether converting src to the type of dst keeps its value:
// no truncation, no sign flip and no fraction lost.
func fits(src, dst reflect.Value) bool {
	switch {
	case isSigned(src.Kind()):
		n := src.Int()
		switch {
		case isSigned(dst.Kind()):
			return !dst.OverflowInt(n)
		case isUnsigned(dst.Kind()):
			return n >= 0 && !dst.OverflowUint(uint64(n))
		case isFloat(dst.Kind()):
			return n >= -maxExactFloat && n <= maxExactFloat
		}
	case isUnsigned(src.Kind()):
		n := src.Uint()
		switch {
		case isSigned(dst.Kind()):
			return n <= math.MaxInt64 && !dst.OverflowInt(int64(n))
		case isUnsigned(dst.Kind()):
			return !dst.OverflowUint(n)
		case isFloat(dst.Kind()):
			return n <= maxExactFloat
		}
	case isFloat(src.Kind()):
		x := src.Float()
		switch {
		case isFloat(dst.Kind()):
			return !dst.OverflowFloat(x)
		case x != math.Trunc(x):
			return false
		case isSigned(dst.Kind()):
			return x >= math.MinInt64 && x < math.MaxInt64 && !dst.OverflowInt(int64(x))
		case isUnsigned(dst.Kind()):
			return x >= 0 && x < math.MaxUint64 && !dst.OverflowUint(uint64(x))
		}
	}
	return true
}

// maxExactFloat is the largest integer magnitude a float64 holds exactly.
const maxExactFloat = 1 << 53

func isNumber(k reflect.Kind) bool {
	return isSigned(k) || isUnsigned(k) || isFloat(k)
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func parse(fn any) (*Func, error) {
	if fn == nil {
		return nil, event.ErrNilCallable
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T is not a function", ErrInvalidFunc, fn)
	}
	if v.IsNil() {
		return nil, event.ErrNilCallable
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic functions are not supported", ErrInvalidFunc)
	}

	f := &Func{fn: v, name: funcName(fn)}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			return nil, fmt.Errorf("%w: %s must return nothing or error", ErrInvalidFunc, f.name)
		}
		f.retErr = true
	default:
		return nil, fmt.Errorf("%w: %s must return nothing or error", ErrInvalidFunc, f.name)
	}

	i := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		f.hasCtx = true
		i++
	}
	switch t.NumIn() - i {
	case 0:
	case 1:
		arg := t.In(i)
		if arg.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s takes %s, want a struct with %q tags",
				ErrInvalidFunc, f.name, arg, tagName)
		}
		fields, err := parseFields(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		f.argType = arg
		f.fields = fields
	default:
		return nil, fmt.Errorf("%w: %s takes too many parameters", ErrInvalidFunc, f.name)
	}

	return f, nil
}

func parseFields(t reflect.Type) ([]field, error) {
	var fields []field
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(tagName)
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("%w: field %s is unexported", ErrInvalidFunc, sf.Name)
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			return nil, fmt.Errorf("%w: field %s has an empty name", ErrInvalidFunc, sf.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: parameter %q declared twice", ErrInvalidFunc, name)
		}
		seen[name] = true
		fields = append(fields, field{
			name:     name,
			index:    i,
			optional: opts == "optional",
		})
	}
	return fields, nil
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	name := runtime.FuncForPC(v.Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
