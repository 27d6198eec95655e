// Package frame reassembles an unframed byte stream into per-light pixel frames.
package frame

import (
	"errors"
	"fmt"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

var (
	ErrNoTargets     = errors.New("layout needs at least one light")
	ErrInvalidTarget = errors.New("invalid light target")
)

// Target binds one light output to a contiguous byte range of a frame.
type Target struct {
	Index  int
	Name   string
	Pixels int
	Offset int // first byte of this light inside the frame
}

// Layout is the ordered binding table built once at startup. Targets partition
// the frame buffer in configuration order with no gaps.
type Layout struct {
	format      pixel.Format
	targets     []Target
	frameSize   int
	totalPixels int
}

// NewLayout builds targets from per-light pixel counts. names may be shorter than
// pixels; missing names default to "light<i>".
func NewLayout(format pixel.Format, pixels []int, names []string) (Layout, error) {
	if !format.Valid() {
		return Layout{}, fmt.Errorf("%w: %s", pixel.ErrUnknownFormat, format)
	}
	if len(pixels) == 0 {
		return Layout{}, ErrNoTargets
	}
	l := Layout{format: format, targets: make([]Target, 0, len(pixels))}
	bpp := format.BytesPerPixel()
	for i, n := range pixels {
		name := fmt.Sprintf("light%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		if n <= 0 {
			return Layout{}, fmt.Errorf("%w: %s has %d pixels", ErrInvalidTarget, name, n)
		}
		l.targets = append(l.targets, Target{
			Index:  i,
			Name:   name,
			Pixels: n,
			Offset: l.frameSize,
		})
		l.frameSize += n * bpp
		l.totalPixels += n
	}
	return l, nil
}

func (l Layout) Format() pixel.Format { return l.format }

// Targets returns a copy of the binding table.
func (l Layout) Targets() []Target {
	out := make([]Target, len(l.targets))
	copy(out, l.targets)
	return out
}

// FrameSize is Σ pixels × bytesPerPixel.
func (l Layout) FrameSize() int { return l.frameSize }

func (l Layout) TotalPixels() int { return l.totalPixels }

// Slice returns the raw bytes of target i within a full frame.
func (l Layout) Slice(i int, raw []byte) []byte {
	t := l.targets[i]
	return raw[t.Offset : t.Offset+t.Pixels*l.format.BytesPerPixel()]
}

// Decode splits a full raw frame into per-light colour slices.
func (l Layout) Decode(raw []byte) [][]pixel.Color {
	out := make([][]pixel.Color, len(l.targets))
	for i := range l.targets {
		out[i] = pixel.Decode(l.format, l.Slice(i, raw))
	}
	return out
}
