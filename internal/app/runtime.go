package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/tcp-led-stream/internal/config"
	"github.com/coreman2200/tcp-led-stream/internal/frame"
	"github.com/coreman2200/tcp-led-stream/internal/led"
	"github.com/coreman2200/tcp-led-stream/internal/metrics"
	"github.com/coreman2200/tcp-led-stream/internal/schedule"
	"github.com/coreman2200/tcp-led-stream/internal/stream"
	"github.com/coreman2200/tcp-led-stream/internal/ws"
)

// Runtime is a fully built bridge, ready to serve.
type Runtime struct {
	Config  *config.Config
	Layout  frame.Layout
	Drivers []led.Driver
	Emitter *metrics.Emitter
	Bridge  *Bridge
	Hub     *ws.Hub // nil when the HTTP surface is disabled

	mqtt *metrics.Paho
	log  zerolog.Logger
}

// Build opens every light output and assembles the bridge. reg receives the
// Prometheus collectors; nil disables them.
func Build(cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, log: logger}

	var (
		counts []int
		names  []string
	)
	for i, l := range cfg.Lights {
		drv, err := openDriver(l, cfg, logger)
		if err != nil {
			rt.closeDrivers()
			return nil, fmt.Errorf("light %d (%s): %w", i, l.Name, err)
		}
		rt.Drivers = append(rt.Drivers, drv)
		counts = append(counts, drv.Size())
		names = append(names, l.Name)
	}

	layout, err := frame.NewLayout(cfg.Format(), counts, names)
	if err != nil {
		rt.closeDrivers()
		return nil, err
	}
	rt.Layout = layout

	sinks, err := rt.sinks(reg)
	if err != nil {
		rt.closeDrivers()
		return nil, err
	}
	rt.Emitter = metrics.NewEmitter(cfg.MetricsInterval(), logger, sinks...)

	deps := Deps{
		Layout:  layout,
		Drivers: rt.Drivers,
		Policy:  rt.policy(),
		Emitter: rt.Emitter,
		Logger:  logger,
	}
	if cfg.HTTP.Addr != "" {
		rt.Hub = ws.NewHub(layout, cfg.CompletionMode, cfg.HTTP.PreviewFPS, rt.Emitter.Snapshot, logger)
		deps.Observer = rt.Hub
	}
	rt.Bridge, err = NewBridge(deps)
	if err != nil {
		rt.closeDrivers()
		return nil, err
	}
	return rt, nil
}

func openDriver(l config.Light, cfg *config.Config, logger zerolog.Logger) (led.Driver, error) {
	switch l.Driver {
	case config.DriverSPI:
		s, err := led.OpenSPI(l.SPIDev, l.Pixels, l.Channels, physic.Frequency(l.SpeedHz)*physic.Hertz)
		if err == nil {
			return s, nil
		}
		logger.Warn().Err(err).Str("light", l.Name).Str("dev", l.SPIDev).
			Msg("SPI init failed; printing at the console instead")
		return led.NewScreen(l.Pixels)
	case config.DriverScreen:
		return led.NewScreen(l.Pixels)
	default:
		return led.NewSim(l.Pixels, l.Channels, cfg.ShowTimePerLED())
	}
}

func (rt *Runtime) policy() schedule.Policy {
	cfg := rt.Config
	switch cfg.Mode() {
	case schedule.ModeEstimate:
		return schedule.Estimate(cfg.ShowTimePerLED(), rt.Layout.TotalPixels(), cfg.SafetyMargin())
	case schedule.ModeBusy:
		var reporters []schedule.BusyReporter
		for _, d := range rt.Drivers {
			if r, ok := d.(schedule.BusyReporter); ok {
				reporters = append(reporters, r)
			}
		}
		return schedule.BusySignal(reporters...)
	default:
		return schedule.Heuristic(cfg.CompletionInterval())
	}
}

func (rt *Runtime) sinks(reg prometheus.Registerer) ([]metrics.Sink, error) {
	m := rt.Config.Metrics
	var sinks []metrics.Sink
	if m.Prometheus {
		p, err := metrics.NewPrometheus(reg)
		if err != nil {
			return nil, err
		}
		if p != nil {
			sinks = append(sinks, p)
		}
	}
	if m.Log {
		sinks = append(sinks, metrics.NewLog(rt.log))
	}
	if m.MQTT.Broker != "" {
		clientID := m.MQTT.ClientID
		if clientID == "" {
			clientID = "ledstream"
		}
		pub, err := metrics.DialMQTT(m.MQTT.Broker, clientID, m.MQTT.TopicPrefix, rt.log)
		if err != nil {
			rt.log.Warn().Err(err).Msg("mqtt telemetry disabled")
		} else {
			sink, err := metrics.NewMQTT(pub, m.MQTT.TopicPrefix, m.MQTT.Sensors)
			if err != nil {
				pub.Close()
				return nil, err
			}
			rt.mqtt = pub
			sinks = append(sinks, sink)
		}
	}
	return sinks, nil
}

// Serve runs the stream server on ln until ctx is done.
func (rt *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	srv := stream.NewServer(ln, stream.Options{
		Timeout: rt.Config.Timeout(),
		Tick:    rt.Config.Tick(),
		Logger:  rt.log,
	})
	rt.Emitter.Start(time.Now())
	rt.log.Info().
		Str("addr", ln.Addr().String()).
		Str("format", rt.Layout.Format().String()).
		Int("frame_size", rt.Layout.FrameSize()).
		Str("mode", rt.Config.CompletionMode).
		Msg("stream server listening")

	err := srv.Run(ctx, rt.Bridge)
	if errors.Is(err, stream.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases the light outputs and the telemetry connection.
func (rt *Runtime) Close() error {
	rt.Emitter.Close()
	if rt.mqtt != nil {
		rt.mqtt.Close()
	}
	return rt.Bridge.Close()
}

func (rt *Runtime) closeDrivers() {
	for _, d := range rt.Drivers {
		_ = d.Close()
	}
}
