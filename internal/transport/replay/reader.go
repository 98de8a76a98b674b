package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/boardlink/internal/transport"
)

const maxLineSize = 1 << 20

// Reader is a transport that plays back a recording.
type Reader struct {
	sc     *bufio.Scanner
	closer io.Closer
	pacing bool
	line   int

	// recorded and wall time of the previous packet, for pacing
	prevRecorded time.Time
	prevWall     time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.Transport = (*Reader)(nil)

// Option configures a Reader.
type Option func(*Reader)

// WithPacing makes Receive wait out the recorded gaps between packets.
func WithPacing(enabled bool) Option {
	return func(r *Reader) {
		r.pacing = enabled
	}
}

// Open opens a recording file.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r := New(f, opts...)
	r.closer = f
	return r, nil
}

// New reads a recording from rd. Close does not close rd.
func New(rd io.Reader, opts ...Option) *Reader {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)

	r := &Reader{
		sc:     sc,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive returns the next recorded packet. It returns io.EOF at the end of
// the recording and transport.ErrClosed after Close. Only one goroutine may
// call Receive.
func (r *Reader) Receive(ctx context.Context) (transport.Packet, error) {
	for {
		select {
		case <-r.closed:
			return transport.Packet{}, transport.ErrClosed
		case <-ctx.Done():
			return transport.Packet{}, ctx.Err()
		default:
		}

		if !r.sc.Scan() {
			if err := r.sc.Err(); err != nil {
				return transport.Packet{}, fmt.Errorf("read recording: %w", err)
			}
			return transport.Packet{}, io.EOF
		}
		r.line++

		raw := bytes.TrimSpace(r.sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		p, err := parse(raw)
		if err != nil {
			return transport.Packet{}, &ParseError{Line: r.line, Err: err}
		}

		if r.pacing {
			if err := r.wait(ctx, p.Time); err != nil {
				return transport.Packet{}, err
			}
		}
		return p, nil
	}
}

func (r *Reader) wait(ctx context.Context, recorded time.Time) error {
	defer func() {
		r.prevRecorded = recorded
		r.prevWall = time.Now()
	}()

	if r.prevRecorded.IsZero() {
		return nil
	}
	delay := recorded.Sub(r.prevRecorded) - time.Since(r.prevWall)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-r.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements transport.Transport.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		if r.closer != nil {
			err = r.closer.Close()
		}
	})
	return err
}

func parse(raw []byte) (transport.Packet, error) {
	if !gjson.ValidBytes(raw) {
		return transport.Packet{}, ErrMalformed
	}
	doc := gjson.ParseBytes(raw)

	name := doc.Get("channel").String()
	kind, ok := transport.ParseKind(name)
	if !ok {
		return transport.Packet{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}

	p := transport.Packet{Kind: kind}
	if ts := doc.Get("ts"); ts.Exists() {
		t, err := time.Parse(time.RFC3339Nano, ts.String())
		if err != nil {
			return transport.Packet{}, fmt.Errorf("ts: %w", err)
		}
		p.Time = t
	}

	switch kind {
	case transport.KindCAN1, transport.KindCAN2:
		id, err := requireField(doc, "can_id")
		if err != nil {
			return transport.Packet{}, err
		}
		if id.Uint() > math.MaxUint32 {
			return transport.Packet{}, fmt.Errorf("can_id %d out of range", id.Uint())
		}
		data, err := decodeBytes(doc, "can_data")
		if err != nil {
			return transport.Packet{}, err
		}
		p.CAN = transport.NewCANFrame(
			uint32(id.Uint()),
			data,
			doc.Get("is_extended_can_id").Bool(),
			doc.Get("is_remote_transmission").Bool(),
		)

	case transport.KindUART1, transport.KindUART2, transport.KindDBUS:
		if _, err := requireField(doc, "uart_data"); err != nil {
			return transport.Packet{}, err
		}
		data, err := decodeBytes(doc, "uart_data")
		if err != nil {
			return transport.Packet{}, err
		}
		p.Data = data

	case transport.KindAccelerometer, transport.KindGyroscope:
		var axes [3]int16
		for i, key := range []string{"x", "y", "z"} {
			v, err := requireField(doc, key)
			if err != nil {
				return transport.Packet{}, err
			}
			n := v.Int()
			if n < math.MinInt16 || n > math.MaxInt16 {
				return transport.Packet{}, fmt.Errorf("%s %d out of range", key, n)
			}
			axes[i] = int16(n)
		}
		p.IMU = transport.IMUSample{X: axes[0], Y: axes[1], Z: axes[2]}
	}

	return p, nil
}

func requireField(doc gjson.Result, key string) (gjson.Result, error) {
	v := doc.Get(key)
	if !v.Exists() {
		return v, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

func decodeBytes(doc gjson.Result, key string) ([]byte, error) {
	v := doc.Get(key)
	if !v.Exists() {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
