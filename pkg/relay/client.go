// Package relay forwards decoder events to a remote websocket endpoint,
// reconnecting with backoff when the connection drops.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
)

// Version is reported in the hello handshake.
const Version = "1"

// Config configures the relay client.
type Config struct {
	URL      string `yaml:"url" json:"url"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Token    string `yaml:"token" json:"-"`

	// Symbols also forwards every classified sample
	Symbols bool `yaml:"symbols" json:"symbols"`

	Queue        int           `yaml:"queue" json:"queue"`
	ReconnectMin time.Duration `yaml:"reconnect_min" json:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max" json:"reconnect_max"`
	PingInterval time.Duration `yaml:"ping_interval" json:"ping_interval"`
}

// DefaultConfig returns relay defaults. URL is empty, which disables the
// relay.
func DefaultConfig() Config {
	return Config{
		ClientID:     "semaphore-decoder",
		Queue:        256,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Enabled reports whether a relay URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Queue <= 0 {
		c.Queue = def.Queue
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = def.ReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = c.ReconnectMin
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	return c
}

// Stats contains relay statistics
type Stats struct {
	Connected bool
	Sessions  uint64
	Sent      uint64
	Dropped   uint64
}

// Client is a reconnecting relay client. It implements
// pipeline.Observer; callbacks enqueue and Run delivers.
type Client struct {
	cfg    Config
	logger *slog.Logger
	queue  chan *protocol.Message

	// pending is an event whose write failed; only Run touches it.
	pending *protocol.Message

	connected atomic.Bool
	sessions  atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a relay client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "relay", "url", cfg.URL),
		queue:  make(chan *protocol.Message, cfg.Queue),
	}
}

// OnSymbol implements pipeline.Observer.
func (c *Client) OnSymbol(d protocol.SymbolData) {
	if c.cfg.Symbols {
		c.enqueue(protocol.NewSymbolMessage(d))
	}
}

// OnCommit implements pipeline.Observer.
func (c *Client) OnCommit(d protocol.CommitData) {
	c.enqueue(protocol.NewCommitMessage(d))
}

// OnState implements pipeline.Observer.
func (c *Client) OnState(d protocol.StateData) {
	c.enqueue(protocol.NewStateMessage(d))
}

// OnFrame implements pipeline.Observer. Frames stay local.
func (c *Client) OnFrame(capture.Frame) {}

func (c *Client) enqueue(msg *protocol.Message, err error) {
	if err != nil {
		c.logger.Warn("failed to encode event", "error", err)
		return
	}
	select {
	case c.queue <- msg:
	default:
		c.dropped.Add(1)
	}
}

// Stats returns relay statistics
func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.connected.Load(),
		Sessions:  c.sessions.Load(),
		Sent:      c.sent.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// Run connects and forwards events until ctx is done, reconnecting with
// exponential backoff. Events queue up while disconnected.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			backoff = c.cfg.ReconnectMin
			c.sessions.Add(1)
			c.connected.Store(true)
			c.logger.Info("relay connected")

			err = c.session(ctx, conn)

			c.connected.Store(false)
			conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("relay disconnected, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("relay: dial: %w", err)
	}

	hello, err := protocol.NewHelloMessage(c.cfg.ClientID, Version, protocol.TypePing)
	if err == nil {
		err = writeMessage(conn, hello)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: hello: %w", err)
	}
	return conn, nil
}

// session is the only writer on conn while it runs.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	replies := make(chan *protocol.Message, 8)
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn, replies)
	}()

	write := func(msg *protocol.Message) error { return writeMessage(conn, msg) }
	if c.pending != nil {
		if err := c.deliver(write, c.pending); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case err := <-readErr:
			return err

		case msg := <-replies:
			if err := writeMessage(conn, msg); err != nil {
				return err
			}

		case msg := <-c.queue:
			if err := c.deliver(write, msg); err != nil {
				return err
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return err
			}
		}
	}
}

// deliver writes an event. A failed event is kept and sent first on the
// next session.
func (c *Client) deliver(write func(*protocol.Message) error, msg *protocol.Message) error {
	if err := write(msg); err != nil {
		c.pending = msg
		return err
	}
	c.pending = nil
	c.sent.Add(1)
	return nil
}

// readLoop answers protocol pings and discards everything else.
func (c *Client) readLoop(conn *websocket.Conn, replies chan<- *protocol.Message) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("ignoring malformed message", "error", err)
			continue
		}
		if msg.Type != protocol.TypePing {
			continue
		}
		ping, err := msg.GetPingData()
		if err != nil {
			continue
		}
		pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		if err != nil {
			continue
		}
		select {
		case replies <- pong:
		default:
		}
	}
}

func writeMessage(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
