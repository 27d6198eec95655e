package frame

import "github.com/coreman2200/tcp-led-stream/internal/pixel"

// Frame is one complete, decoded set of pixels for every bound light.
type Frame struct {
	Seq    uint64
	Lights [][]pixel.Color // indexed like Layout.Targets
}

// Pixels counts every pixel across all lights.
func (f Frame) Pixels() int {
	n := 0
	for _, l := range f.Lights {
		n += len(l)
	}
	return n
}

// Assembler accumulates stream bytes into a fixed-size frame buffer. Frame
// boundaries are purely a function of Layout.FrameSize.
type Assembler struct {
	layout Layout
	buf    []byte
	filled int
	seq    uint64
}

func NewAssembler(l Layout) *Assembler {
	return &Assembler{
		layout: l,
		buf:    make([]byte, l.FrameSize()),
	}
}

func (a *Assembler) Layout() Layout { return a.layout }

// Feed appends b and returns every frame it completes. A partial tail stays
// buffered for the next call.
func (a *Assembler) Feed(b []byte) []Frame {
	var frames []Frame
	for len(b) > 0 {
		n := copy(a.buf[a.filled:], b)
		a.filled += n
		b = b[n:]
		if a.filled == len(a.buf) {
			a.seq++
			frames = append(frames, Frame{Seq: a.seq, Lights: a.layout.Decode(a.buf)})
			a.filled = 0
		}
	}
	return frames
}

// Pending is the number of buffered bytes of the current partial frame.
func (a *Assembler) Pending() int { return a.filled }

// Reset discards any partial frame. The sequence counter keeps running.
func (a *Assembler) Reset() { a.filled = 0 }
