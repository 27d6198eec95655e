// Package discovery advertises the pixel stream on the local network over
// mDNS and lets senders find it.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// ServiceType is the DNS-SD type of the raw pixel stream.
const ServiceType = "_ledstream._tcp"

type Config struct {
	// Instance name; defaults to the host name.
	Name      string
	Port      int
	Format    string
	FrameSize int
}

// Advertiser keeps an mDNS responder alive until Stop.
type Advertiser struct {
	server *mdns.Server
	log    zerolog.Logger
}

// Advertise starts answering mDNS queries for the stream service.
func Advertise(cfg Config, logger zerolog.Logger) (*Advertiser, error) {
	name := cfg.Name
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		name = host
	}
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(name, ServiceType, "", "", cfg.Port, ips, txtRecords(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	log := logger.With().Str("component", "mdns").Logger()
	log.Info().Str("name", name).Int("port", cfg.Port).Str("type", ServiceType).Msg("advertising stream service")
	return &Advertiser{server: server, log: log}, nil
}

func (a *Advertiser) Stop() error {
	a.log.Debug().Msg("mdns shutdown")
	return a.server.Shutdown()
}

// Service is a bridge found on the network.
type Service struct {
	Name      string
	Addr      string
	Format    string
	FrameSize int
}

// Browse queries the local network for bridges, waiting up to timeout.
func Browse(timeout time.Duration) ([]Service, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Service
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if s, ok := fromEntry(e); ok {
				found = append(found, s)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func txtRecords(cfg Config) []string {
	var txt []string
	if cfg.Format != "" {
		txt = append(txt, "format="+cfg.Format)
	}
	if cfg.FrameSize > 0 {
		txt = append(txt, "frame_size="+strconv.Itoa(cfg.FrameSize))
	}
	return txt
}

func fromEntry(e *mdns.ServiceEntry) (Service, bool) {
	if e == nil || e.AddrV4 == nil || !strings.Contains(e.Name, ServiceType) {
		return Service{}, false
	}
	s := Service{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Addr: net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)),
	}
	for _, f := range e.InfoFields {
		k, v, _ := strings.Cut(f, "=")
		switch k {
		case "format":
			s.Format = v
		case "frame_size":
			s.FrameSize, _ = strconv.Atoi(v)
		}
	}
	return s, true
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		ips = append(ips, ipnet.IP)
	}
	return ips, nil
}
