package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShape(t *testing.T) {
	tests := []struct {
		name    string
		params  []Param
		wantErr bool
	}{
		{"imu", []Param{{"x", KindInt16}, {"y", KindInt16}, {"z", KindInt16}}, false},
		{"empty shape", nil, false},
		{"duplicate", []Param{{"x", KindInt16}, {"x", KindInt16}}, true},
		{"empty name", []Param{{"", KindBool}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShape(tt.params...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidShape)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShape_Lookup(t *testing.T) {
	s := MustShape(Param{"can_id", KindUint32}, Param{"can_data", KindBytes})

	assert.Equal(t, 2, s.Arity())
	assert.Equal(t, 1, s.Index("can_data"))
	assert.Equal(t, -1, s.Index("x"))
	assert.Equal(t, []string{"can_id", "can_data"}, s.Names())
	assert.Equal(t, "(can_id uint32, can_data bytes)", s.String())
}

func TestMustShape_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustShape(Param{"a", KindBool}, Param{"a", KindBool})
	})
}

func TestArgs(t *testing.T) {
	args := Args{{Name: "x", Value: int16(1)}, {Name: "z", Value: int16(3)}}

	v, ok := args.Get("z")
	require.True(t, ok)
	assert.Equal(t, int16(3), v)
	assert.False(t, args.Has("y"))
	assert.Equal(t, map[string]any{"x": int16(1), "z": int16(3)}, args.Map())
}

func TestInspectors_FallThrough(t *testing.T) {
	always := InspectorFunc(func(Callable) (Signature, error) {
		return Signature{Name: "fallback"}, nil
	})
	in := Inspectors(SelfInspector(), always)

	sig, err := in.Inspect(Describe(nil, Signature{Name: "self"}))
	require.NoError(t, err)
	assert.Equal(t, "self", sig.Name)

	sig, err = in.Inspect(CallableFunc(nil))
	require.NoError(t, err)
	assert.Equal(t, "fallback", sig.Name)

	_, err = Inspectors(SelfInspector()).Inspect(CallableFunc(nil))
	assert.ErrorIs(t, err, ErrUnsupportedCallable)
}
