// Package metrics derives stream telemetry from bridge events and pushes it to
// optional sinks. Nothing here gates the data path.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is the telemetry state at one instant. Counters only grow for the
// life of the process; FrameRate is a rate over the last window.
type Snapshot struct {
	At            time.Time
	Connected     bool
	FrameRate     float64
	BytesReceived uint64
	Frames        uint64
	Commits       uint64
	Connects      uint64
	Disconnects   uint64
	Timeouts      uint64
	Overlaps      uint64
	CommitErrors  uint64
	Rejected      uint64
}

// Value is one named telemetry reading, formatted for text transports.
type Value struct {
	Name  string
	Value string
}

// Sensor names accepted in configuration.
const (
	SensorFrameRate     = "frame_rate"
	SensorBytesReceived = "bytes_received"
	SensorConnects      = "connects"
	SensorDisconnects   = "disconnects"
	SensorOverlaps      = "overlaps"
	SensorConnected     = "connected"
)

// Sensors lists every sensor name in publish order.
func Sensors() []string {
	return []string{SensorFrameRate, SensorBytesReceived, SensorConnects, SensorDisconnects, SensorOverlaps, SensorConnected}
}

func (s Snapshot) Values() []Value {
	return []Value{
		{SensorFrameRate, strconv.FormatFloat(s.FrameRate, 'f', 1, 64)},
		{SensorBytesReceived, strconv.FormatUint(s.BytesReceived, 10)},
		{SensorConnects, strconv.FormatUint(s.Connects, 10)},
		{SensorDisconnects, strconv.FormatUint(s.Disconnects, 10)},
		{SensorOverlaps, strconv.FormatUint(s.Overlaps, 10)},
		{SensorConnected, strconv.FormatBool(s.Connected)},
	}
}

// Sink consumes snapshots. Each sink runs on its own goroutine, so Publish
// may block on a slow transport without stalling the bridge.
type Sink interface {
	Publish(s Snapshot) error
}

// sinkWorker feeds one sink through a single slot. A snapshot that the sink
// has not picked up yet is replaced by the newer one.
type sinkWorker struct {
	sink Sink
	slot chan Snapshot
	done chan struct{}
}

func (w *sinkWorker) offer(s Snapshot) {
	for {
		select {
		case w.slot <- s:
			return
		default:
		}
		select {
		case <-w.slot:
		default:
		}
	}
}

func (w *sinkWorker) run(log zerolog.Logger) {
	defer close(w.done)
	for s := range w.slot {
		if err := w.sink.Publish(s); err != nil {
			log.Warn().Err(err).Msg("metrics sink publish failed")
		}
	}
}

// Emitter counts events and publishes a snapshot once per interval, and
// immediately whenever the connected state flips. Publishing never blocks
// the caller.
type Emitter struct {
	mu       sync.Mutex
	interval time.Duration
	workers  []*sinkWorker
	closed   bool
	log      zerolog.Logger

	pubMu sync.Mutex

	snap         Snapshot
	windowStart  time.Time
	windowFrames uint64
}

func NewEmitter(interval time.Duration, logger zerolog.Logger, sinks ...Sink) *Emitter {
	if interval <= 0 {
		interval = time.Second
	}
	e := &Emitter{
		interval: interval,
		log:      logger.With().Str("component", "metrics").Logger(),
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		w := &sinkWorker{sink: s, slot: make(chan Snapshot, 1), done: make(chan struct{})}
		e.workers = append(e.workers, w)
		go w.run(e.log)
	}
	return e
}

// Close stops the sink goroutines after they publish whatever is queued.
func (e *Emitter) Close() {
	e.pubMu.Lock()
	if e.closed {
		e.pubMu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.slot)
	}
	e.pubMu.Unlock()
	for _, w := range e.workers {
		<-w.done
	}
}

// Start opens the first rate window and publishes the initial disconnected
// state.
func (e *Emitter) Start(now time.Time) {
	e.mu.Lock()
	e.windowStart = now
	e.snap.At = now
	snap := e.snap
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Emitter) Connected(now time.Time) {
	e.mu.Lock()
	e.snap.Connects++
	e.snap.Connected = true
	e.snap.At = now
	snap := e.snap
	e.mu.Unlock()
	e.publish(snap)
}

// Disconnected records the end of a session; timeout says whether the idle
// timer caused it.
func (e *Emitter) Disconnected(timeout bool, now time.Time) {
	e.mu.Lock()
	e.snap.Disconnects++
	if timeout {
		e.snap.Timeouts++
	}
	e.snap.Connected = false
	e.snap.At = now
	snap := e.snap
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Emitter) BytesReceived(n int) {
	e.mu.Lock()
	e.snap.BytesReceived += uint64(n)
	e.mu.Unlock()
}

func (e *Emitter) FrameCompleted() {
	e.mu.Lock()
	e.snap.Frames++
	e.windowFrames++
	e.mu.Unlock()
}

func (e *Emitter) Committed() {
	e.mu.Lock()
	e.snap.Commits++
	e.mu.Unlock()
}

func (e *Emitter) Overlap() {
	e.mu.Lock()
	e.snap.Overlaps++
	e.mu.Unlock()
}

func (e *Emitter) CommitError() {
	e.mu.Lock()
	e.snap.CommitErrors++
	e.mu.Unlock()
}

func (e *Emitter) Rejected() {
	e.mu.Lock()
	e.snap.Rejected++
	e.mu.Unlock()
}

// Tick closes the rate window once it spans the interval and publishes.
func (e *Emitter) Tick(now time.Time) {
	e.mu.Lock()
	if e.windowStart.IsZero() {
		e.windowStart = now
	}
	elapsed := now.Sub(e.windowStart)
	if elapsed < e.interval {
		e.mu.Unlock()
		return
	}
	e.snap.FrameRate = float64(e.windowFrames) / elapsed.Seconds()
	e.snap.At = now
	e.windowFrames = 0
	e.windowStart = now
	snap := e.snap
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Emitter) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *Emitter) publish(s Snapshot) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	if e.closed {
		return
	}
	for _, w := range e.workers {
		w.offer(s)
	}
}
