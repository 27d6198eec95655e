package metrics

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var ErrNotConnected = errors.New("mqtt not connected")

// Publisher sends one retained text value to a topic.
type Publisher interface {
	Publish(topic, payload string) error
}

// MQTT publishes each selected sensor under prefix/<sensor>, only when its
// value changed since the last publish.
type MQTT struct {
	mu      sync.Mutex
	pub     Publisher
	prefix  string
	sensors map[string]bool
	last    map[string]string
}

// NewMQTT selects sensors by name; an empty list selects all of them.
func NewMQTT(pub Publisher, prefix string, sensors []string) (*MQTT, error) {
	known := map[string]bool{}
	for _, s := range Sensors() {
		known[s] = true
	}
	sel := map[string]bool{}
	if len(sensors) == 0 {
		sel = known
	}
	for _, s := range sensors {
		if !known[s] {
			return nil, fmt.Errorf("unknown sensor %q", s)
		}
		sel[s] = true
	}
	return &MQTT{
		pub:     pub,
		prefix:  strings.TrimSuffix(prefix, "/"),
		sensors: sel,
		last:    map[string]string{},
	}, nil
}

// Topic is the full topic for a sensor.
func (m *MQTT) Topic(sensor string) string {
	if m.prefix == "" {
		return sensor
	}
	return m.prefix + "/" + sensor
}

func (m *MQTT) Publish(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, v := range s.Values() {
		if !m.sensors[v.Name] {
			continue
		}
		if prev, ok := m.last[v.Name]; ok && prev == v.Value {
			continue
		}
		if err := m.pub.Publish(m.Topic(v.Name), v.Value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
			continue
		}
		m.last[v.Name] = v.Value
	}
	return errors.Join(errs...)
}

// Paho is a Publisher backed by an MQTT broker connection.
type Paho struct {
	client mqtt.Client
	log    zerolog.Logger
}

// DialMQTT connects to broker (host:port or a URL). The broker is told to
// publish connected=false under prefix if this process drops off.
func DialMQTT(broker, clientID, prefix string, logger zerolog.Logger) (*Paho, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	log := logger.With().Str("component", "mqtt").Str("broker", broker).Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetWill(strings.TrimSuffix(prefix, "/")+"/"+SensorConnected, "false", 0, true)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	log.Info().Msg("mqtt connection established")
	return &Paho{client: client, log: log}, nil
}

func (p *Paho) Publish(topic, payload string) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

func (p *Paho) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("mqtt disconnected")
	}
}
