package led

import (
	"sync"
	"time"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

// Sim is an in-memory output. It remembers the last shown frame and can mimic
// the time a real strip takes to clock data out, which makes it a
// schedule.BusyReporter.
type Sim struct {
	mu       sync.Mutex
	size     int
	channels int
	staged   []pixel.Color
	shown    []pixel.Color
	shows    int
	showTime time.Duration
	busyTill time.Time
	closed   bool

	// Now is the clock used for Busy; defaults to time.Now.
	Now func() time.Time
}

// NewSim creates a simulated output. perLED is the show time per pixel; zero
// makes every show complete instantly.
func NewSim(size, channels int, perLED time.Duration) (*Sim, error) {
	if err := checkShape(size, channels); err != nil {
		return nil, err
	}
	return &Sim{
		size:     size,
		channels: channels,
		staged:   make([]pixel.Color, size),
		showTime: perLED * time.Duration(size),
		Now:      time.Now,
	}, nil
}

func (s *Sim) Size() int     { return s.size }
func (s *Sim) Channels() int { return s.channels }

func (s *Sim) Write(colors []pixel.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	copy(s.staged, colors)
	return nil
}

func (s *Sim) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.shown = append(s.shown[:0], s.staged...)
	s.shows++
	s.busyTill = s.Now().Add(s.showTime)
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Busy reports whether the last show is still being clocked out.
func (s *Sim) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Now().Before(s.busyTill)
}

// Shown returns a copy of the last frame pushed by Show.
func (s *Sim) Shown() []pixel.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pixel.Color(nil), s.shown...)
}

// Shows counts calls to Show.
func (s *Sim) Shows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows
}
