package app

import (
	"context"
	"sync"

	"github.com/dshills/boardlink/internal/transport"
)

// gate holds Receive back until open is called.
type gate struct {
	transport.Transport

	once   sync.Once
	opened chan struct{}
}

func newGate(t transport.Transport) *gate {
	return &gate{Transport: t, opened: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.opened) })
}

// Receive implements transport.Transport.
func (g *gate) Receive(ctx context.Context) (transport.Packet, error) {
	select {
	case <-g.opened:
	case <-ctx.Done():
		return transport.Packet{}, ctx.Err()
	}
	return g.Transport.Receive(ctx)
}
