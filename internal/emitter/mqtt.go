// Package emitter publishes measurement results to an MQTT broker.
package emitter

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/pulselab/internal/session"
)

// Defaults for Config.
const (
	DefaultTopic          = "pulselab/measurements"
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

var (
	// ErrNotConnected is returned by Publish before Connect succeeds.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt timeout")
)

// Config configures the broker connection.
type Config struct {
	// Broker is a URL such as tcp://localhost:1883. A bare host:port gets tcp://.
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// publisher is the part of mqtt.Client used to send.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Payload is the JSON published for each measurement.
type Payload struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMs  int64     `json:"duration_ms"`
	Outcome     string    `json:"outcome"`
	Rate        string    `json:"rate,omitempty"`
	SampleCount int       `json:"sample_count"`
}

// NewPayload builds the message for r.
func NewPayload(r session.Result) Payload {
	return Payload{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		DurationMs:  r.EndedAt.Sub(r.StartedAt).Milliseconds(),
		Outcome:     string(r.Outcome),
		Rate:        r.Rate,
		SampleCount: len(r.Samples),
	}
}

// Stats counts publish outcomes.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// MQTT publishes results to {Topic}/{outcome}.
type MQTT struct {
	config Config
	logger *zap.SugaredLogger
	client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// New creates an unconnected MQTT emitter.
func New(config Config, logger *zap.SugaredLogger) *MQTT {
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.ClientID == "" {
		config.ClientID = "pulselab"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MQTT{config: config, logger: logger}
}

// newWithPublisher is used by tests to bypass the broker.
func newWithPublisher(config Config, pub publisher, logger *zap.SugaredLogger) *MQTT {
	m := New(config, logger)
	m.pub = pub
	m.connected = true
	return m
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker. The client reconnects on its own after a lost
// connection.
func (m *MQTT) Connect() error {
	if m.config.Broker == "" {
		return errors.New("mqtt broker is not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.config.Broker))
	opts.SetClientID(m.config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.logger.Infow("mqtt connected", "broker", m.config.Broker, "client_id", m.config.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		m.logger.Warnw("mqtt connection lost, reconnecting", "broker", m.config.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		return errors.Wrapf(ErrTimeout, "connect to %s", m.config.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "connect to %s", m.config.Broker)
	}

	m.mu.Lock()
	m.client = client
	m.pub = client
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// Topic returns the topic a result with the given outcome is sent to.
func (m *MQTT) Topic(outcome session.Outcome) string {
	return m.config.Topic + "/" + string(outcome)
}

// Publish sends r and waits for the broker acknowledgement.
func (m *MQTT) Publish(r session.Result) error {
	m.mu.RLock()
	pub, connected := m.pub, m.connected
	m.mu.RUnlock()

	if pub == nil || !connected {
		m.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewPayload(r))
	if err != nil {
		m.countError()
		return errors.Wrap(err, "encode result")
	}

	topic := m.Topic(r.Outcome)
	token := pub.Publish(topic, m.config.QoS, m.config.Retain, payload)
	if !token.WaitTimeout(DefaultPublishTimeout) {
		m.countError()
		return errors.Wrapf(ErrTimeout, "publish %s", topic)
	}
	if err := token.Error(); err != nil {
		m.countError()
		return errors.Wrapf(err, "publish %s", topic)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()

	m.logger.Debugw("result published", "topic", topic, "id", r.ID, "size", len(payload))
	return nil
}

func (m *MQTT) countError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Stats returns publish counters.
func (m *MQTT) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Connected: m.connected, Published: m.published, Errors: m.errors}
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	client := m.client
	m.connected = false
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		m.logger.Infow("mqtt disconnected")
	}
	return nil
}
