// Package sim provides an in-memory transport fed by the caller.
package sim

import (
	"context"
	"sync"

	"github.com/dshills/boardlink/internal/transport"
)

// Transport delivers packets pushed with Send. Fail makes the next Receive
// return an error.
type Transport struct {
	packets chan transport.Packet
	failure chan error

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}

	receiving chan struct{}
	recvOnce  sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport buffering up to size packets.
func New(size int) *Transport {
	if size < 0 {
		size = 0
	}
	return &Transport{
		packets:   make(chan transport.Packet, size),
		failure:   make(chan error, 1),
		closedCh:  make(chan struct{}),
		receiving: make(chan struct{}),
	}
}

// Send queues a packet. It blocks while the buffer is full and returns
// transport.ErrClosed after Close.
func (t *Transport) Send(ctx context.Context, p transport.Packet) error {
	select {
	case <-t.closedCh:
		return transport.ErrClosed
	default:
	}
	select {
	case t.packets <- p:
		return nil
	case <-t.closedCh:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail makes a pending or the next Receive return err.
func (t *Transport) Fail(err error) {
	select {
	case t.failure <- err:
	default:
	}
}

// Receiving returns a channel closed once Receive was first called.
func (t *Transport) Receiving() <-chan struct{} {
	return t.receiving
}

// Receive implements transport.Transport.
func (t *Transport) Receive(ctx context.Context) (transport.Packet, error) {
	t.recvOnce.Do(func() { close(t.receiving) })

	select {
	case err := <-t.failure:
		return transport.Packet{}, err
	default:
	}

	select {
	case p := <-t.packets:
		return p, nil
	case err := <-t.failure:
		return transport.Packet{}, err
	case <-t.closedCh:
		return transport.Packet{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Packet{}, ctx.Err()
	}
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
	return nil
}
