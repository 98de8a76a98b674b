package replay

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/dshills/boardlink/internal/event"
	"github.com/dshills/boardlink/internal/logging"
)

// Source is a set of named channels, such as a board.
type Source interface {
	Channel(name string) *event.Channel
	ChannelNames() []string
}

// Recorder writes every event it receives as one JSON line.
type Recorder struct {
	mu      sync.Mutex
	w       *bufio.Writer
	session string
	seq     uint64
	now     func() time.Time
	logger  zerolog.Logger
	err     error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSession sets the session id written on every line. The default is a
// random UUID.
func WithSession(id string) RecorderOption {
	return func(r *Recorder) {
		if id != "" {
			r.session = id
		}
	}
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRecorderLogger sets the logger for write failures.
func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		w:       bufio.NewWriter(w),
		session: uuid.NewString(),
		now:     time.Now,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session id.
func (r *Recorder) Session() string {
	return r.session
}

// Count returns the number of lines written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Attach registers a synchronous consumer on every channel of src. The
// consumer takes every parameter of the channel's shape.
func (r *Recorder) Attach(src Source) error {
	for _, name := range src.ChannelNames() {
		ch := src.Channel(name)
		if ch == nil {
			return fmt.Errorf("attach recorder: %w: %s", ErrUnknownChannel, name)
		}

		params := make([]event.Parameter, 0, ch.Shape().Arity())
		for _, n := range ch.Shape().Names() {
			params = append(params, event.Parameter{Name: n})
		}

		channel := name
		fn := event.Describe(func(_ context.Context, args event.Args) error {
			return r.Record(channel, args)
		}, event.Signature{Name: "recorder", Params: params})

		if _, err := ch.Register(fn); err != nil {
			return fmt.Errorf("attach recorder to %s: %w", name, err)
		}
	}
	r.logger.Debug().Str("session", r.session).Msg("recorder attached")
	return nil
}

// Record writes one event. Byte values are base64 encoded.
func (r *Recorder) Record(channel string, args event.Args) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	line, err := r.encode(channel, args)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if _, err := r.w.Write(line); err != nil {
		r.err = fmt.Errorf("write record: %w", err)
		r.logger.Error().Err(err).Msg("recorder stopped")
		return r.err
	}
	r.seq++
	return nil
}

func (r *Recorder) encode(channel string, args event.Args) ([]byte, error) {
	line := []byte(`{}`)
	var err error

	set := func(path string, v any) {
		if err == nil {
			line, err = sjson.SetBytes(line, path, v)
		}
	}

	set("ts", r.now().UTC().Format(time.RFC3339Nano))
	set("session", r.session)
	set("seq", r.seq)
	set("channel", channel)
	for _, a := range args {
		if b, ok := a.Value.([]byte); ok {
			set(a.Name, base64.StdEncoding.EncodeToString(b))
			continue
		}
		set(a.Name, a.Value)
	}

	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", channel, err)
	}
	return line, nil
}

// Flush writes buffered lines to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if err := r.w.Flush(); err != nil {
		r.err = fmt.Errorf("flush records: %w", err)
		return r.err
	}
	return nil
}
