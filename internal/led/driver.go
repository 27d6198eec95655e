// Package led drives addressable light outputs. Every output stages a slice of
// colors and pushes it on Show, so a frame lands on all lights at once.
package led

import (
	"errors"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

var (
	ErrClosed         = errors.New("led: driver closed")
	ErrInvalidSize    = errors.New("led: invalid pixel count")
	ErrInvalidChannel = errors.New("led: channels must be 3 or 4")
)

// Driver abstracts an LED output sink.
type Driver interface {
	// Size is the addressable length of the output, read once at startup.
	Size() int
	// Channels is 3 for RGB parts and 4 for RGBW parts.
	Channels() int
	// Write stages colors. Entries past Size are ignored.
	Write(colors []pixel.Color) error
	// Show pushes the staged buffer to the hardware.
	Show() error
	// Close blanks the output and releases resources.
	Close() error
}

// stage packs colors in R,G,B[,W] order into dst, which holds size*channels bytes.
func stage(dst []byte, channels int, colors []pixel.Color) {
	n := len(dst) / channels
	if len(colors) < n {
		n = len(colors)
	}
	for i := 0; i < n; i++ {
		c := colors[i]
		o := i * channels
		dst[o+0] = c.R
		dst[o+1] = c.G
		dst[o+2] = c.B
		if channels == 4 {
			dst[o+3] = c.W
		}
	}
}

func checkShape(size, channels int) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	if channels != 3 && channels != 4 {
		return ErrInvalidChannel
	}
	return nil
}
