// Package app wires the stream server, frame assembly, show scheduling, light
// outputs and telemetry into the running bridge.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	diag "github.com/coreman2200/tcp-led-stream/internal/diagnostics"
	"github.com/coreman2200/tcp-led-stream/internal/frame"
	"github.com/coreman2200/tcp-led-stream/internal/led"
	"github.com/coreman2200/tcp-led-stream/internal/metrics"
	"github.com/coreman2200/tcp-led-stream/internal/pixel"
	"github.com/coreman2200/tcp-led-stream/internal/schedule"
	"github.com/coreman2200/tcp-led-stream/internal/stream"
)

var ErrDriverMismatch = errors.New("drivers do not match the light layout")

// Observer sees committed frames and diagnostics; ws.Hub implements it.
type Observer interface {
	FrameCommitted(f frame.Frame, now time.Time) bool
	Diagnostic(d diag.Diagnostic)
}

type Deps struct {
	Layout   frame.Layout
	Drivers  []led.Driver // one per layout target, same order
	Policy   schedule.Policy
	Emitter  *metrics.Emitter
	Observer Observer // optional
	Logger   zerolog.Logger
}

// Bridge is the stream.Handler that turns socket bytes into shows. It runs
// entirely on the stream server's loop.
type Bridge struct {
	layout    frame.Layout
	drivers   []led.Driver
	assembler *frame.Assembler
	scheduler *schedule.Scheduler
	emitter   *metrics.Emitter
	observer  Observer
	log       zerolog.Logger

	remote       string
	lastActivity time.Time
	now          time.Time
}

var _ stream.Handler = (*Bridge)(nil)

func NewBridge(d Deps) (*Bridge, error) {
	targets := d.Layout.Targets()
	if len(d.Drivers) != len(targets) {
		return nil, fmt.Errorf("%w: %d drivers for %d lights", ErrDriverMismatch, len(d.Drivers), len(targets))
	}
	for i, t := range targets {
		if d.Drivers[i].Size() < t.Pixels {
			return nil, fmt.Errorf("%w: light %s has %d pixels, slice needs %d",
				ErrDriverMismatch, t.Name, d.Drivers[i].Size(), t.Pixels)
		}
	}
	if d.Emitter == nil {
		d.Emitter = metrics.NewEmitter(time.Second, d.Logger)
	}

	b := &Bridge{
		layout:    d.Layout,
		drivers:   d.Drivers,
		assembler: frame.NewAssembler(d.Layout),
		emitter:   d.Emitter,
		observer:  d.Observer,
		log:       d.Logger.With().Str("component", "bridge").Logger(),
	}
	b.scheduler = schedule.New(d.Policy, schedule.CommitFunc(b.commit))
	return b, nil
}

func (b *Bridge) Emitter() *metrics.Emitter { return b.emitter }

func (b *Bridge) Scheduler() *schedule.Scheduler { return b.scheduler }

func (b *Bridge) OnConnect(remote string, now time.Time) {
	b.remote = remote
	b.lastActivity = now
	b.assembler.Reset()
	b.emitter.Connected(now)
	b.diagnose(diag.Connect(remote, now))
}

func (b *Bridge) OnData(p []byte, now time.Time) {
	b.lastActivity = now
	b.now = now
	b.emitter.BytesReceived(len(p))

	for _, f := range b.assembler.Feed(p) {
		b.emitter.FrameCompleted()
		d, err := b.scheduler.Offer(f, now)
		switch d {
		case schedule.Overlapped:
			b.emitter.Overlap()
			b.log.Debug().Uint64("seq", f.Seq).Msg("frame dropped, show in progress")
			b.diagnose(diag.Overlap(f.Seq, b.scheduler.Overlaps(), now))
		case schedule.Committed:
			b.emitter.Committed()
			if err != nil {
				b.emitter.CommitError()
				b.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("commit failed")
				b.diagnose(diag.CommitError(err, now))
			}
		}
	}
}

// OnDisconnect drops any partial frame and forgets the show in progress, so
// the next client starts from a clean state.
func (b *Bridge) OnDisconnect(reason stream.Reason, now time.Time) {
	b.assembler.Reset()
	b.scheduler.Reset()
	timeout := reason == stream.ReasonTimeout
	b.emitter.Disconnected(timeout, now)
	if timeout {
		b.diagnose(diag.Timeout(now.Sub(b.lastActivity), now))
	}
	b.diagnose(diag.Disconnect(string(reason), now))
	b.remote = ""
}

// OnLateData counts bytes that arrived after their session ended. They never
// reach the assembler.
func (b *Bridge) OnLateData(n int, _ time.Time) {
	b.emitter.BytesReceived(n)
}

func (b *Bridge) OnReject(remote string, now time.Time) {
	b.emitter.Rejected()
	b.diagnose(diag.Reject(remote, b.remote, now))
}

func (b *Bridge) OnTick(now time.Time) {
	b.scheduler.Tick(now)
	b.emitter.Tick(now)
}

// commit stages every light's slice and then triggers every show, so the
// lights update as close together as the outputs allow.
func (b *Bridge) commit(f frame.Frame) error {
	derive := !b.layout.Format().HasWhite()
	var errs []error
	for i, drv := range b.drivers {
		colors := f.Lights[i]
		if derive && drv.Channels() == 4 {
			colors = withWhite(colors)
		}
		if err := drv.Write(colors); err != nil {
			errs = append(errs, fmt.Errorf("light %d: %w", i, err))
		}
	}
	for i, drv := range b.drivers {
		if err := drv.Show(); err != nil {
			errs = append(errs, fmt.Errorf("light %d show: %w", i, err))
		}
	}
	if b.observer != nil {
		b.observer.FrameCommitted(f, b.now)
	}
	return errors.Join(errs...)
}

func (b *Bridge) diagnose(d diag.Diagnostic) {
	if b.observer != nil {
		b.observer.Diagnostic(d)
	}
}

func withWhite(colors []pixel.Color) []pixel.Color {
	out := make([]pixel.Color, len(colors))
	for i, c := range colors {
		out[i] = c.WithDerivedWhite()
	}
	return out
}

// Close releases every light output.
func (b *Bridge) Close() error {
	var errs []error
	for _, drv := range b.drivers {
		if err := drv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
