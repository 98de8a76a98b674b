// Package monitor draws a live terminal dashboard of board traffic.
package monitor

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/sourcegraph/conc"

	"github.com/dshills/boardlink/internal/event"
)

// Source is a set of named channels, such as a board.
type Source interface {
	Channel(name string) *event.Channel
	ChannelNames() []string
}

// maxBytes is how many payload bytes a summary shows.
const maxBytes = 8

// counter tracks one channel.
type counter struct {
	count atomic.Uint64

	mu   sync.Mutex
	last string
	at   time.Time
}

func (c *counter) observe(summary string, at time.Time) {
	c.count.Add(1)
	c.mu.Lock()
	c.last = summary
	c.at = at
	c.mu.Unlock()
}

func (c *counter) snapshot() (uint64, string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count.Load(), c.last, c.at
}

// Monitor counts events per channel and renders them on a tcell screen.
type Monitor struct {
	screen  tcell.Screen
	refresh time.Duration
	title   string
	status  func() string
	now     func() time.Time

	mu       sync.RWMutex
	names    []string
	counters map[string]*counter
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRefresh sets the redraw interval.
func WithRefresh(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// WithTitle sets the header line.
func WithTitle(title string) Option {
	return func(m *Monitor) {
		m.title = title
	}
}

// WithStatus sets a function whose result is shown next to the title.
func WithStatus(fn func() string) Option {
	return func(m *Monitor) {
		m.status = fn
	}
}

// New creates a monitor drawing on screen. Run initializes and finalizes
// the screen.
func New(screen tcell.Screen, opts ...Option) *Monitor {
	m := &Monitor{
		screen:   screen,
		refresh:  250 * time.Millisecond,
		title:    "boardlink",
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Attach registers a counting consumer on every channel of src.
func (m *Monitor) Attach(src Source) error {
	for _, name := range src.ChannelNames() {
		ch := src.Channel(name)
		if ch == nil {
			return fmt.Errorf("attach monitor: unknown channel %s", name)
		}

		c := m.track(name)
		params := make([]event.Parameter, 0, ch.Shape().Arity())
		for _, n := range ch.Shape().Names() {
			params = append(params, event.Parameter{Name: n})
		}

		fn := event.Describe(func(_ context.Context, args event.Args) error {
			c.observe(Summarize(args), m.now())
			return nil
		}, event.Signature{Name: "monitor", Params: params})

		if _, err := ch.Register(fn); err != nil {
			return fmt.Errorf("attach monitor to %s: %w", name, err)
		}
	}
	return nil
}

func (m *Monitor) track(name string) *counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[name]; ok {
		return c
	}
	c := &counter{}
	m.counters[name] = c
	m.names = append(m.names, name)
	return c
}

// Count returns the number of events seen on a channel.
func (m *Monitor) Count(name string) uint64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.count.Load()
}

// Run draws until ctx is done or the user presses q, Escape or Ctrl-C.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}

	events := make(chan tcell.Event, 16)
	var wg conc.WaitGroup
	wg.Go(func() {
		defer close(events)
		for {
			ev := m.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	})
	defer func() {
		m.screen.Fini()
		for range events {
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	m.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.draw()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if quits(ev) {
					return nil
				}
			case *tcell.EventResize:
				m.screen.Sync()
				m.draw()
			}
		}
	}
}

func quits(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return ev.Rune() == 'q' || ev.Rune() == 'Q'
	}
	return false
}

var (
	titleStyle  = tcell.StyleDefault.Bold(true)
	headerStyle = tcell.StyleDefault.Underline(true)
	idleStyle   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	activeStyle = tcell.StyleDefault.Foreground(tcell.ColorGreen)
)

func (m *Monitor) draw() {
	m.screen.Clear()
	width, height := m.screen.Size()

	title := m.title
	if m.status != nil {
		title += "  [" + m.status() + "]"
	}
	m.text(0, 0, width, title, titleStyle)
	m.text(0, 2, width, fmt.Sprintf("%-14s %10s %8s  %s", "CHANNEL", "EVENTS", "AGE", "LAST"), headerStyle)

	m.mu.RLock()
	names := append([]string(nil), m.names...)
	m.mu.RUnlock()

	now := m.now()
	for i, name := range names {
		y := 3 + i
		if y >= height-1 {
			break
		}
		m.mu.RLock()
		c := m.counters[name]
		m.mu.RUnlock()

		count, last, at := c.snapshot()
		age, style := "-", idleStyle
		if count > 0 {
			age = now.Sub(at).Truncate(time.Millisecond).String()
			style = activeStyle
		}
		m.text(0, y, width, fmt.Sprintf("%-14s %10d %8s  %s", name, count, age, last), style)
	}

	m.text(0, height-1, width, "q quit", idleStyle)
	m.screen.Show()
}

func (m *Monitor) text(x, y, width int, s string, style tcell.Style) {
	for _, r := range s {
		if x >= width {
			return
		}
		m.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

// Summarize renders event arguments on one line, e.g.
// "can_id=0x201 can_data=0102 is_extended_can_id=false".
func Summarize(args event.Args) string {
	var sb strings.Builder
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(a.Name)
		sb.WriteByte('=')
		switch v := a.Value.(type) {
		case []byte:
			if len(v) > maxBytes {
				sb.WriteString(hex.EncodeToString(v[:maxBytes]))
				fmt.Fprintf(&sb, "…(%d)", len(v))
			} else {
				sb.WriteString(hex.EncodeToString(v))
			}
		case uint32:
			fmt.Fprintf(&sb, "0x%X", v)
		default:
			fmt.Fprint(&sb, v)
		}
	}
	return sb.String()
}
