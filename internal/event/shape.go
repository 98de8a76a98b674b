package event

import (
	"fmt"
	"strings"
)

// Kind identifies the value type of a shape parameter.
type Kind uint8

// Parameter kinds.
const (
	KindUint32 Kind = iota + 1
	KindInt16
	KindBytes
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUint32:
		return "uint32"
	case KindInt16:
		return "int16"
	case KindBytes:
		return "bytes"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Param is one named, typed position of an event shape.
type Param struct {
	Name string
	Kind Kind
}

// Shape is the ordered parameter list every publish on a channel carries.
// Names are unique within a shape.
type Shape []Param

// NewShape builds a shape and rejects empty or duplicate names.
func NewShape(params ...Param) (Shape, error) {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: empty parameter name", ErrInvalidShape)
		}
		if _, ok := seen[p.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidShape, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	s := make(Shape, len(params))
	copy(s, params)
	return s, nil
}

// MustShape is like NewShape but panics on error. It is meant for
// package-level shape declarations.
func MustShape(params ...Param) Shape {
	s, err := NewShape(params...)
	if err != nil {
		panic(err)
	}
	return s
}

// Arity returns the number of parameters.
func (s Shape) Arity() int {
	return len(s)
}

// Index returns the position of name, or -1.
func (s Shape) Index(name string) int {
	for i, p := range s {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the parameter names in order.
func (s Shape) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// String renders the shape as "(name kind, ...)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = p.Name + " " + p.Kind.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Arg is one named value delivered to a consumer.
type Arg struct {
	Name  string
	Value any
}

// Args is the ordered subset of one publish selected for a subscription.
// Order follows the channel shape.
type Args []Arg

// Get returns the value for name.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Has reports whether name is present.
func (a Args) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Names returns the argument names in delivery order.
func (a Args) Names() []string {
	names := make([]string, len(a))
	for i, arg := range a {
		names[i] = arg.Name
	}
	return names
}

// Map returns the arguments as a map.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Name] = arg.Value
	}
	return m
}
