package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus mirrors snapshots into collectors. Counters advance by the delta
// since the previous snapshot.
type Prometheus struct {
	mu   sync.Mutex
	last Snapshot

	bytesReceived prometheus.Counter
	frames        prometheus.Counter
	commits       prometheus.Counter
	connects      prometheus.Counter
	disconnects   *prometheus.CounterVec // by reason: timeout, other
	overlaps      prometheus.Counter
	commitErrors  prometheus.Counter
	rejected      prometheus.Counter
	frameRate     prometheus.Gauge
	connected     prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledstream",
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledstream",
		Name:      name,
		Help:      help,
	})
}

// NewPrometheus registers the stream collectors with reg. A nil registry
// disables the sink and returns nil.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		return nil, nil
	}

	p := &Prometheus{
		bytesReceived: counter("bytes_received_total", "Bytes read from stream clients"),
		frames:        counter("frames_total", "Complete frames assembled"),
		commits:       counter("commits_total", "Frames committed to the lights"),
		connects:      counter("connects_total", "Stream client connections accepted"),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledstream",
			Name:      "disconnects_total",
			Help:      "Stream client disconnections",
		}, []string{"reason"}),
		overlaps:     counter("overlaps_total", "Frames dropped because a show was still in progress"),
		commitErrors: counter("commit_errors_total", "Frames the lights failed to accept"),
		rejected:     counter("rejected_total", "Connections refused while a client was active"),
		frameRate:    gauge("frame_rate", "Frames per second over the last window"),
		connected:    gauge("connected", "1 while a stream client is connected"),
	}

	for _, c := range []prometheus.Collector{
		p.bytesReceived, p.frames, p.commits, p.connects, p.disconnects,
		p.overlaps, p.commitErrors, p.rejected, p.frameRate, p.connected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return p, nil
}

func (p *Prometheus) Publish(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bytesReceived.Add(float64(s.BytesReceived - p.last.BytesReceived))
	p.frames.Add(float64(s.Frames - p.last.Frames))
	p.commits.Add(float64(s.Commits - p.last.Commits))
	p.connects.Add(float64(s.Connects - p.last.Connects))
	timeouts := s.Timeouts - p.last.Timeouts
	p.disconnects.WithLabelValues("timeout").Add(float64(timeouts))
	p.disconnects.WithLabelValues("other").Add(float64(s.Disconnects - p.last.Disconnects - timeouts))
	p.overlaps.Add(float64(s.Overlaps - p.last.Overlaps))
	p.commitErrors.Add(float64(s.CommitErrors - p.last.CommitErrors))
	p.rejected.Add(float64(s.Rejected - p.last.Rejected))
	p.frameRate.Set(s.FrameRate)
	if s.Connected {
		p.connected.Set(1)
	} else {
		p.connected.Set(0)
	}

	p.last = s
	return nil
}
