package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/boardlink/internal/transport"
)

func TestTransport_SendReceive(t *testing.T) {
	tr := New(2)
	ctx := context.Background()

	require.NoError(t, tr.Send(ctx, transport.IMUPacket(transport.KindGyroscope, 1, -2, 3)))

	p, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.KindGyroscope, p.Kind)
	assert.Equal(t, transport.IMUSample{X: 1, Y: -2, Z: 3}, p.IMU)

	select {
	case <-tr.Receiving():
	default:
		t.Fatal("Receiving not closed after Receive")
	}
}

func TestTransport_ReceiveHonoursContext(t *testing.T) {
	tr := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_Fail(t *testing.T) {
	tr := New(1)
	boom := errors.New("usb unplugged")
	tr.Fail(boom)

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestTransport_Close(t *testing.T) {
	tr := New(1)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, tr.Send(context.Background(), transport.Packet{}), transport.ErrClosed)
}
