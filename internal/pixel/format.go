// Package pixel maps raw stream bytes onto colour values for a configured pixel format.
package pixel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat is returned by ParseFormat for names outside the supported set.
var ErrUnknownFormat = errors.New("unknown pixel format")

// Format is the byte layout of one pixel on the wire.
type Format int

const (
	RGB Format = iota
	RGBW
	GRB
	GRBW
	BGR
)

// channel slots inside a Color
const (
	chR = iota
	chG
	chB
	chW
)

var formatNames = [...]string{
	RGB:  "RGB",
	RGBW: "RGBW",
	GRB:  "GRB",
	GRBW: "GRBW",
	BGR:  "BGR",
}

// channelOrders[f][i] is the colour channel carried by byte i of a pixel.
var channelOrders = [...][]int{
	RGB:  {chR, chG, chB},
	RGBW: {chR, chG, chB, chW},
	GRB:  {chG, chR, chB},
	GRBW: {chG, chR, chB, chW},
	BGR:  {chB, chG, chR},
}

// Formats lists every supported format in enum order.
func Formats() []Format {
	return []Format{RGB, RGBW, GRB, GRBW, BGR}
}

// ParseFormat resolves a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for f, n := range formatNames {
		if n == name {
			return Format(f), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) Valid() bool {
	return f >= RGB && f <= BGR
}

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// BytesPerPixel is 4 for formats carrying a white channel, 3 otherwise.
func (f Format) BytesPerPixel() int {
	return len(channelOrders[f])
}

func (f Format) HasWhite() bool {
	return f.BytesPerPixel() == 4
}
