package led

import (
	"fmt"
	"io"
	"sync"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

// device is the part of a periph LED device a Strip needs. nrzled.Dev and the
// console screen both satisfy it.
type device interface {
	Write(pixels []byte) (int, error)
	Halt() error
}

// Strip stages colors into a raw pixel buffer and writes it to a device on
// Show.
type Strip struct {
	mu       sync.Mutex
	dev      device
	port     io.Closer
	size     int
	channels int
	buf      []byte
	closed   bool
}

func newStrip(dev device, port io.Closer, size, channels int) (*Strip, error) {
	if err := checkShape(size, channels); err != nil {
		return nil, err
	}
	return &Strip{
		dev:      dev,
		port:     port,
		size:     size,
		channels: channels,
		buf:      make([]byte, size*channels),
	}, nil
}

func (s *Strip) Size() int     { return s.size }
func (s *Strip) Channels() int { return s.channels }

func (s *Strip) Write(colors []pixel.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	stage(s.buf, s.channels, colors)
	return nil
}

func (s *Strip) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.dev.Write(s.buf); err != nil {
		return fmt.Errorf("led write: %w", err)
	}
	return nil
}

func (s *Strip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.dev.Halt()
	if s.port != nil {
		if cerr := s.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
