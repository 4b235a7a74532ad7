// Package emitter publishes decoder events to an MQTT broker.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
)

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Config configures the MQTT emitter.
type Config struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`

	// PublishSymbols also publishes every classified sample. Off by
	// default; samples arrive at frame rate.
	PublishSymbols bool `yaml:"publish_symbols" json:"publish_symbols"`

	// QoS per message type; missing types use 0
	QoS map[string]byte `yaml:"qos" json:"qos"`

	// Queue bounds events waiting to be published
	Queue int `yaml:"queue" json:"queue"`
}

// DefaultConfig returns emitter defaults. Broker is empty, which disables
// the emitter.
func DefaultConfig() Config {
	return Config{
		ClientID:    "semaphore-decoder",
		TopicPrefix: "semaphore",
		QoS: map[string]byte{
			string(protocol.TypeCommit): 1,
			string(protocol.TypeState):  1,
		},
		Queue: 256,
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// Publisher is the subset of an MQTT client the emitter uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Connected() bool
	Disconnect()
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
	Dropped   uint64
}

type event struct {
	topic    string
	qos      byte
	retained bool
	msg      *protocol.Message
}

// Emitter publishes decoder events. It implements pipeline.Observer; the
// callbacks only enqueue and Run does the publishing.
type Emitter struct {
	cfg    Config
	pub    Publisher
	logger *slog.Logger
	events chan event

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	dropped   uint64
}

// New creates an emitter on top of pub.
func New(cfg Config, pub Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultConfig().Queue
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultConfig().TopicPrefix
	}
	return &Emitter{
		cfg:       cfg,
		pub:       pub,
		logger:    logger.With("component", "emitter"),
		events:    make(chan event, cfg.Queue),
		published: make(map[string]uint64),
	}
}

// Connect dials the broker and returns an emitter using it.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Emitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pub, err := dial(ctx, cfg, logger.With("component", "mqtt"))
	if err != nil {
		return nil, err
	}
	return New(cfg, pub, logger), nil
}

// Topic returns the topic for a message type.
func (e *Emitter) Topic(t protocol.MessageType) string {
	return e.cfg.TopicPrefix + "/" + string(t)
}

// OnSymbol implements pipeline.Observer.
func (e *Emitter) OnSymbol(d protocol.SymbolData) {
	if !e.cfg.PublishSymbols {
		return
	}
	msg, err := protocol.NewSymbolMessage(d)
	e.enqueue(msg, err, false)
}

// OnCommit implements pipeline.Observer.
func (e *Emitter) OnCommit(d protocol.CommitData) {
	msg, err := protocol.NewCommitMessage(d)
	e.enqueue(msg, err, false)
}

// OnState implements pipeline.Observer. State is retained so late
// subscribers see the current playback state.
func (e *Emitter) OnState(d protocol.StateData) {
	msg, err := protocol.NewStateMessage(d)
	e.enqueue(msg, err, true)
}

// OnFrame implements pipeline.Observer. Frames are not published.
func (e *Emitter) OnFrame(capture.Frame) {}

func (e *Emitter) enqueue(msg *protocol.Message, err error, retained bool) {
	if err != nil {
		e.logger.Warn("failed to encode event", "error", err)
		return
	}
	ev := event{
		topic:    e.Topic(msg.Type),
		qos:      e.cfg.QoS[string(msg.Type)],
		retained: retained,
		msg:      msg,
	}
	select {
	case e.events <- ev:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("event queue full, dropping", "topic", ev.topic)
	}
}

// Run publishes queued events until ctx is done, then disconnects.
func (e *Emitter) Run(ctx context.Context) {
	defer e.pub.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.publish(ev)
		}
	}
}

func (e *Emitter) publish(ev event) {
	if !e.pub.Connected() {
		e.fail(ev, ErrNotConnected)
		return
	}
	payload, err := ev.msg.Bytes()
	if err != nil {
		e.fail(ev, err)
		return
	}
	if err := e.pub.Publish(ev.topic, ev.qos, ev.retained, payload); err != nil {
		e.fail(ev, err)
		return
	}

	e.mu.Lock()
	e.published[ev.topic]++
	e.mu.Unlock()

	e.logger.Debug("event published", "topic", ev.topic, "qos", ev.qos, "size", len(payload))
}

func (e *Emitter) fail(ev event, err error) {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	e.logger.Warn("publish failed", "topic", ev.topic, "error", err)
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.pub.Connected(),
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

// pahoPublisher adapts a paho client to Publisher.
type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*pahoPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		client.Disconnect(0)
		return nil, fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return &pahoPublisher{client: client, timeout: 2 * time.Second}, nil
}

// brokerURL defaults bare host:port brokers to tcp
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("emitter: publish timeout")
	}
	return token.Error()
}

func (p *pahoPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

func (p *pahoPublisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
