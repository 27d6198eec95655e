package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
)

func TestTXTRecords(t *testing.T) {
	assert.Equal(t, []string{"format=GRBW", "frame_size=240"}, txtRecords(Config{Format: "GRBW", FrameSize: 240}))
	assert.Empty(t, txtRecords(Config{}))
}

func TestFromEntry(t *testing.T) {
	s, ok := fromEntry(&mdns.ServiceEntry{
		Name:       "porch._ledstream._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       7777,
		InfoFields: []string{"format=RGB", "frame_size=69"},
	})
	assert.True(t, ok)
	assert.Equal(t, Service{Name: "porch", Addr: "192.168.1.20:7777", Format: "RGB", FrameSize: 69}, s)

	_, ok = fromEntry(&mdns.ServiceEntry{Name: "printer._ipp._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1)})
	assert.False(t, ok)

	_, ok = fromEntry(&mdns.ServiceEntry{Name: "porch._ledstream._tcp.local."})
	assert.False(t, ok)
}
