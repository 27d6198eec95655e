package led

import "periph.io/x/extra/devices/screen"

// NewScreen renders the strip as a row of ANSI colored blocks on the console.
// It is the fallback when no SPI port is found; the console has no white
// channel, so it always runs with 3 channels.
func NewScreen(size int) (*Strip, error) {
	if err := checkShape(size, 3); err != nil {
		return nil, err
	}
	return newStrip(screen.New(size), nil, size, 3)
}
