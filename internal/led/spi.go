package led

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// DefaultSPIFreq suits WS281x parts clocked over SPI.
const DefaultSPIFreq = 2500 * physic.KiloHertz

var hostOnce struct {
	sync.Once
	err error
}

func initHost() error {
	hostOnce.Do(func() {
		_, hostOnce.err = host.Init()
	})
	return hostOnce.err
}

// NewSPI drives a WS281x strip over an already opened SPI port. The strip
// takes ownership of p.
func NewSPI(p spi.PortCloser, size, channels int, freq physic.Frequency) (*Strip, error) {
	if err := checkShape(size, channels); err != nil {
		return nil, err
	}
	if freq == 0 {
		freq = DefaultSPIFreq
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: size,
		Channels:  channels,
		Freq:      freq,
	})
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}
	if err := d.Halt(); err != nil {
		return nil, fmt.Errorf("nrzled halt: %w", err)
	}
	return newStrip(d, p, size, channels)
}

// OpenSPI initializes the host drivers and opens the named SPI port; an empty
// name picks the first one registered.
func OpenSPI(name string, size, channels int, freq physic.Frequency) (*Strip, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", name, err)
	}
	s, err := NewSPI(p, size, channels, freq)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}
