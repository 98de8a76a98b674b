package signature

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/boardlink/internal/event"
)

var canShape = event.MustShape(
	event.Param{Name: "can_id", Kind: event.KindUint32},
	event.Param{Name: "can_data", Kind: event.KindBytes},
	event.Param{Name: "is_extended_can_id", Kind: event.KindBool},
	event.Param{Name: "is_remote_transmission", Kind: event.KindBool},
)

type idAndRemote struct {
	ID     uint32 `event:"can_id"`
	Remote bool   `event:"is_remote_transmission"`
}

func newChannel() *event.Channel {
	return event.NewChannel("can1", canShape, event.WithInspector(Inspector()))
}

func TestOf_PartialParameters(t *testing.T) {
	ch := newChannel()

	var got idAndRemote
	calls := 0
	_, err := ch.Register(Of(func(f idAndRemote) {
		got = f
		calls++
	}))
	require.NoError(t, err)

	require.NoError(t, ch.Publish(context.Background(), uint32(7), []byte{0x01, 0x02}, false, true))
	assert.Equal(t, 1, calls)
	assert.Equal(t, idAndRemote{ID: 7, Remote: true}, got)
}

func TestOf_Signature(t *testing.T) {
	f := Of(func(_ context.Context, s struct {
		Data  []byte `event:"can_data"`
		Gain  int    `event:"gain,optional"`
		Skip  string `event:"-"`
		Plain int
	}) error {
		return nil
	}).Named("reader")

	sig, err := Inspector().Inspect(f)
	require.NoError(t, err)
	assert.Equal(t, "reader", sig.Name)
	assert.False(t, sig.Async)
	assert.Nil(t, sig.Exclusion)
	assert.Equal(t, []event.Parameter{
		{Name: "can_data"},
		{Name: "gain", HasDefault: true},
	}, sig.Params)
}

func TestOf_UnknownParameterRejected(t *testing.T) {
	ch := newChannel()

	_, err := ch.Register(Of(func(s struct {
		X int `event:"x"`
	}) {
	}).Named("f"))
	require.ErrorIs(t, err, event.ErrInvalidSubscription)
	assert.Equal(t, "f() has an unexpected argument 'x'", err.Error())
}

func TestOf_OptionalUnknownAccepted(t *testing.T) {
	ch := newChannel()

	var gain = -1
	_, err := ch.Register(Of(func(s struct {
		ID   uint32 `event:"can_id"`
		Gain int    `event:"x,optional"`
	}) {
		gain = s.Gain
	}))
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), uint32(1), []byte{}, false, false))
	assert.Equal(t, 0, gain)
}

func TestOf_NoParameters(t *testing.T) {
	ch := newChannel()

	called := false
	_, err := ch.Register(Of(func() { called = true }))
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), uint32(1), []byte{}, false, false))
	assert.True(t, called)
}

func TestOf_NumericConversion(t *testing.T) {
	ch := newChannel()

	var id int64
	_, err := ch.Register(Of(func(s struct {
		ID int64 `event:"can_id"`
	}) {
		id = s.ID
	}))
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), uint32(0x1FF), []byte{}, true, false))
	assert.Equal(t, int64(0x1FF), id)
}

func TestOf_NumericConversionKeepsValue(t *testing.T) {
	imuShape := event.MustShape(
		event.Param{Name: "x", Kind: event.KindInt16},
		event.Param{Name: "y", Kind: event.KindInt16},
		event.Param{Name: "z", Kind: event.KindInt16},
	)

	tests := []struct {
		name    string
		shape   event.Shape
		fn      any
		args    []any
		wantErr bool
	}{
		{
			name:  "can id narrowed to int8",
			shape: canShape,
			fn: func(s struct {
				ID int8 `event:"can_id"`
			}) {
			},
			args:    []any{uint32(0x1FF), []byte{}, false, false},
			wantErr: true,
		},
		{
			name:  "small can id into uint16",
			shape: canShape,
			fn: func(s struct {
				ID uint16 `event:"can_id"`
			}) {
			},
			args: []any{uint32(0x1FF), []byte{}, false, false},
		},
		{
			name:  "negative axis into uint16",
			shape: imuShape,
			fn: func(s struct {
				X uint16 `event:"x"`
			}) {
			},
			args:    []any{int16(-1), int16(0), int16(0)},
			wantErr: true,
		},
		{
			name:  "axis widened to float64",
			shape: imuShape,
			fn: func(s struct {
				X float64 `event:"x"`
			}) {
			},
			args: []any{int16(-300), int16(0), int16(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := event.NewChannel("test", tt.shape, event.WithInspector(Inspector()))
			_, err := ch.Register(Of(tt.fn))
			require.NoError(t, err)

			err = ch.Publish(context.Background(), tt.args...)
			if tt.wantErr {
				assert.ErrorIs(t, err, event.ErrConsumerInvocation)
				assert.Contains(t, err.Error(), "does not fit")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOf_TypeMismatchIsInvocationError(t *testing.T) {
	ch := newChannel()

	_, err := ch.Register(Of(func(s struct {
		ID bool `event:"can_id"`
	}) {
	}))
	require.NoError(t, err)

	err = ch.Publish(context.Background(), uint32(1), []byte{}, false, false)
	assert.ErrorIs(t, err, event.ErrConsumerInvocation)
}

func TestOf_ReturnedErrorPropagates(t *testing.T) {
	ch := newChannel()
	boom := errors.New("boom")

	_, err := ch.Register(Of(func(context.Context) error { return boom }))
	require.NoError(t, err)

	err = ch.Publish(context.Background(), uint32(1), []byte{}, false, false)
	assert.ErrorIs(t, err, boom)
}

func TestOf_InvalidForms(t *testing.T) {
	tests := []struct {
		name string
		fn   any
	}{
		{"not a function", 42},
		{"non-struct argument", func(int) {}},
		{"bad return", func() int { return 0 }},
		{"too many parameters", func(idAndRemote, idAndRemote) {}},
		{"variadic", func(...int) {}},
		{"unexported field", func(struct {
			id uint32 `event:"can_id"`
		}) {
		}},
		{"duplicate tag", func(struct {
			A uint32 `event:"can_id"`
			B uint32 `event:"can_id"`
		}) {
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newChannel().Register(Of(tt.fn))
			assert.ErrorIs(t, err, event.ErrInvalidSubscription)
			assert.ErrorIs(t, err, ErrInvalidFunc)
		})
	}
}

func TestOf_Nil(t *testing.T) {
	var fn func()
	_, err := newChannel().Register(Of(fn))
	assert.ErrorIs(t, err, event.ErrNilCallable)
}

func TestAsync_MarksSignature(t *testing.T) {
	f := Async(func(idAndRemote) {})
	sig, err := f.Signature()
	require.NoError(t, err)
	assert.True(t, sig.Async)
	assert.Contains(t, f.Name(), "signature.TestAsync_MarksSignature")
}

func TestInspector_RejectsForeignCallables(t *testing.T) {
	_, err := Inspector().Inspect(event.CallableFunc(func(context.Context, event.Args) error { return nil }))
	assert.ErrorIs(t, err, event.ErrUnsupportedCallable)
}
