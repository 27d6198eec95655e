// Package config loads the bridge configuration from YAML. Values are read
// once at startup and never change while the bridge runs.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coreman2200/tcp-led-stream/internal/metrics"
	"github.com/coreman2200/tcp-led-stream/internal/pixel"
	"github.com/coreman2200/tcp-led-stream/internal/schedule"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	DriverSim    = "sim"
	DriverSPI    = "spi"
	DriverScreen = "screen"
)

type Light struct {
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"` // sim | spi | screen
	Pixels   int    `yaml:"pixels"`
	Channels int    `yaml:"channels"`           // 3 or 4
	SPIDev   string `yaml:"spi_dev,omitempty"`  // spireg name, empty = first port
	SpeedHz  int    `yaml:"speed_hz,omitempty"` // e.g. 2500000
}

type MQTT struct {
	Broker      string   `yaml:"broker"` // empty disables
	ClientID    string   `yaml:"client_id"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Sensors     []string `yaml:"sensors,omitempty"`
}

type Metrics struct {
	IntervalMs int  `yaml:"interval_ms"`
	Prometheus bool `yaml:"prometheus"`
	Log        bool `yaml:"log"`
	MQTT       MQTT `yaml:"mqtt"`
}

type HTTP struct {
	Addr       string `yaml:"addr"` // empty disables
	PreviewFPS int    `yaml:"preview_fps"`
}

type MDNS struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

type Config struct {
	Port                      int     `yaml:"port"`
	Bind                      string  `yaml:"bind"`
	PixelFormat               string  `yaml:"pixel_format"`
	TimeoutMs                 int     `yaml:"timeout_ms"`
	FrameCompletionIntervalMs int     `yaml:"frame_completion_interval_ms"`
	CompletionMode            string  `yaml:"completion_mode"`
	ShowTimePerLEDUs          int     `yaml:"show_time_per_led_us"`
	SafetyMarginUs            int     `yaml:"safety_margin_us"`
	TickUs                    int     `yaml:"tick_us"`
	Lights                    []Light `yaml:"lights"`

	Metrics  Metrics `yaml:"metrics"`
	HTTP     HTTP    `yaml:"http"`
	MDNS     MDNS    `yaml:"mdns"`
	LogLevel string  `yaml:"log_level"`
}

// Default has one simulated 60 pixel light and every option at its default.
func Default() *Config {
	return &Config{
		Port:                      7777,
		PixelFormat:               "RGB",
		TimeoutMs:                 5000,
		FrameCompletionIntervalMs: 15,
		CompletionMode:            string(schedule.ModeHeuristic),
		ShowTimePerLEDUs:          30,
		TickUs:                    1000,
		Lights:                    []Light{{Name: "strip0", Driver: DriverSim, Pixels: 60, Channels: 3}},
		Metrics: Metrics{
			IntervalMs: 1000,
			Prometheus: true,
			MQTT:       MQTT{TopicPrefix: "ledstream"},
		},
		HTTP:     HTTP{Addr: ":8080", PreviewFPS: 20},
		LogLevel: "info",
	}
}

// Load reads path over the defaults, so keys missing from the file keep
// their default value. A missing lights list keeps the default light.
func Load(path string) (*Config, error) {
	c := Default()
	if err := LoadInto(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadInto reads path over c. Keys the file sets replace c's values; the
// rest are left alone. A missing file returns an error matching
// fs.ErrNotExist and leaves c untouched.
func LoadInto(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range c.Lights {
		if c.Lights[i].Channels == 0 {
			c.Lights[i].Channels = 3
		}
		if c.Lights[i].Driver == "" {
			c.Lights[i].Driver = DriverSim
		}
	}
	return nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Dump renders the effective configuration for the startup log.
func (c *Config) Dump() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

// Validate reports every out of range option at once, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		bad("port %d out of range 1..65535", c.Port)
	}
	if _, err := pixel.ParseFormat(c.PixelFormat); err != nil {
		bad("pixel_format: %w", err)
	}
	if c.TimeoutMs < 0 || c.TimeoutMs > 60000 {
		bad("timeout_ms %d out of range 0..60000", c.TimeoutMs)
	}
	if c.FrameCompletionIntervalMs < 1 || c.FrameCompletionIntervalMs > 100 {
		bad("frame_completion_interval_ms %d out of range 1..100", c.FrameCompletionIntervalMs)
	}
	mode, err := schedule.ParseMode(c.CompletionMode)
	if err != nil {
		bad("completion_mode: %w", err)
	}
	if c.ShowTimePerLEDUs < 1 || c.ShowTimePerLEDUs > 200 {
		bad("show_time_per_led_us %d out of range 1..200", c.ShowTimePerLEDUs)
	}
	if c.SafetyMarginUs < 0 || c.SafetyMarginUs > 100000 {
		bad("safety_margin_us %d out of range 0..100000", c.SafetyMarginUs)
	}
	if c.TickUs < 100 || c.TickUs > 100000 {
		bad("tick_us %d out of range 100..100000", c.TickUs)
	}

	if len(c.Lights) == 0 {
		bad("at least one light is required")
	}
	sims := 0
	for i, l := range c.Lights {
		switch l.Driver {
		case DriverSim:
			sims++
		case DriverSPI, DriverScreen:
		default:
			bad("lights[%d]: unknown driver %q", i, l.Driver)
		}
		if l.Pixels < 1 {
			bad("lights[%d]: pixels must be positive", i)
		}
		if l.Channels != 3 && l.Channels != 4 {
			bad("lights[%d]: channels must be 3 or 4", i)
		}
		if l.Driver == DriverScreen && l.Channels != 3 {
			bad("lights[%d]: screen driver has 3 channels", i)
		}
		if l.SpeedHz < 0 {
			bad("lights[%d]: negative speed_hz", i)
		}
	}
	if mode == schedule.ModeBusy && sims != len(c.Lights) {
		bad("completion_mode busy needs every light to report busy (sim driver only)")
	}

	if c.Metrics.IntervalMs < 1 {
		bad("metrics.interval_ms must be positive")
	}
	for _, s := range c.Metrics.MQTT.Sensors {
		if !knownSensor(s) {
			bad("metrics.mqtt.sensors: unknown sensor %q", s)
		}
	}
	if c.HTTP.PreviewFPS < 0 {
		bad("http.preview_fps must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func knownSensor(s string) bool {
	for _, k := range metrics.Sensors() {
		if k == s {
			return true
		}
	}
	return false
}

func (c *Config) Format() pixel.Format {
	f, _ := pixel.ParseFormat(c.PixelFormat)
	return f
}

func (c *Config) Mode() schedule.Mode { return schedule.Mode(c.CompletionMode) }

func (c *Config) ListenAddr() string { return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port)) }

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *Config) CompletionInterval() time.Duration {
	return time.Duration(c.FrameCompletionIntervalMs) * time.Millisecond
}

func (c *Config) ShowTimePerLED() time.Duration {
	return time.Duration(c.ShowTimePerLEDUs) * time.Microsecond
}

func (c *Config) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginUs) * time.Microsecond
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickUs) * time.Microsecond
}

func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalMs) * time.Millisecond
}
