package pixel

import "fmt"

// Color is one decoded pixel. W stays zero for formats without a white channel
// unless WithDerivedWhite is applied.
type Color struct {
	R, G, B, W uint8
}

func (c *Color) slot(ch int) *uint8 {
	switch ch {
	case chR:
		return &c.R
	case chG:
		return &c.G
	case chB:
		return &c.B
	default:
		return &c.W
	}
}

// WithDerivedWhite fills W with the channel average, for 3-byte formats driving
// RGBW outputs.
func (c Color) WithDerivedWhite() Color {
	c.W = uint8((uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3)
	return c
}

// Decode reorders window into colours. len(window) must be a multiple of
// f.BytesPerPixel(); the frame assembler guarantees that by construction.
func Decode(f Format, window []byte) []Color {
	out := make([]Color, len(window)/f.BytesPerPixel())
	DecodeInto(f, out, window)
	return out
}

// DecodeInto decodes window into dst and returns the number of pixels written.
func DecodeInto(f Format, dst []Color, window []byte) int {
	order := channelOrders[f]
	bpp := len(order)
	if len(window)%bpp != 0 {
		panic(fmt.Sprintf("pixel: window of %d bytes is not aligned to %s (%d bytes/pixel)", len(window), f, bpp))
	}
	n := len(window) / bpp
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		px := window[i*bpp : i*bpp+bpp]
		var c Color
		for j, ch := range order {
			*c.slot(ch) = px[j]
		}
		dst[i] = c
	}
	return n
}

// Encode is the inverse of Decode: it lays colours out in the format's wire order.
func Encode(f Format, colors []Color) []byte {
	order := channelOrders[f]
	out := make([]byte, 0, len(colors)*len(order))
	for i := range colors {
		c := colors[i]
		for _, ch := range order {
			out = append(out, *c.slot(ch))
		}
	}
	return out
}
