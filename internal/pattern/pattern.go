// Package pattern renders test frames for exercising a strip end to end.
package pattern

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

type Kind string

const (
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
	Rainbow    Kind = "rainbow"
	White      Kind = "white"
)

func Kinds() []Kind { return []Kind{IndexSweep, RGBTest, Rainbow, White} }

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown pattern %q", s)
}

// Runner steps through one pattern. Brightness scales every channel, 0..1.
type Runner struct {
	kind       Kind
	step       int
	brightness float64
}

func New(kind Kind, brightness float64) *Runner {
	return &Runner{kind: kind, brightness: math.Max(0, math.Min(1, brightness))}
}

func (r *Runner) Kind() Kind { return r.kind }

// Step fills colors with the next frame; returns false once a finite pattern
// is complete.
func (r *Runner) Step(colors []pixel.Color) bool {
	n := len(colors)
	for i := range colors {
		colors[i] = pixel.Color{}
	}
	full := uint8(math.Round(255 * r.brightness))

	switch r.kind {
	case IndexSweep:
		if r.step >= n {
			return false
		}
		colors[r.step] = pixel.Color{R: full, G: full, B: full, W: full}
	case RGBTest:
		if r.step >= 3 {
			return false
		}
		for i := range colors {
			switch r.step {
			case 0:
				colors[i].R = full
			case 1:
				colors[i].G = full
			case 2:
				colors[i].B = full
			}
		}
	case Rainbow:
		phase := float64(r.step) * 3.6
		for i := range colors {
			h := math.Mod(phase+360*float64(i)/float64(n), 360)
			cr, cg, cb := colorful.Hsv(h, 1, r.brightness).Clamped().RGB255()
			colors[i] = pixel.Color{R: cr, G: cg, B: cb}
		}
	case White:
		for i := range colors {
			colors[i] = pixel.Color{R: full, G: full, B: full, W: full}
		}
	default:
		return false
	}
	r.step++
	return true
}

// Reset starts the pattern over.
func (r *Runner) Reset() { r.step = 0 }
