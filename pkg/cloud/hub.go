// Package cloud collects events from remote decoders that connect through
// the relay client and exposes them over a REST API.
package cloud

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-semaphore/pkg/protocol"
)

// DecoderConnection represents a connected decoder
type DecoderConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	writeMu sync.Mutex

	mu        sync.Mutex
	version   string
	lastSeen  time.Time
	state     string
	text      string
	commits   uint64
	latencyMs int64
}

// Send sends a message to the decoder
func (d *DecoderConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.Conn.WriteMessage(websocket.TextMessage, data)
}

// Info returns a snapshot of the connection
func (d *DecoderConnection) Info() DecoderInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DecoderInfo{
		ID:        d.ID,
		Version:   d.version,
		Connected: d.Connected,
		LastSeen:  d.lastSeen,
		State:     d.state,
		Text:      d.text,
		Commits:   d.commits,
		LatencyMs: d.latencyMs,
	}
}

// DecoderInfo contains info about a connected decoder
type DecoderInfo struct {
	ID        string    `json:"id"`
	Version   string    `json:"version,omitempty"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text"`
	Commits   uint64    `json:"commits"`
	LatencyMs int64     `json:"latency_ms"`
}

// Hub manages websocket connections from decoders
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	decoders map[string]*DecoderConnection

	// Callbacks
	onCommit func(decoderID string, commit *protocol.CommitData)
	onState  func(decoderID string, state *protocol.StateData)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	commitsReceived  atomic.Uint64
}

// NewHub creates a new decoder hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger.With("component", "cloud"),
		decoders: make(map[string]*DecoderConnection),
	}
}

// OnCommit sets the callback for committed symbols
func (h *Hub) OnCommit(callback func(decoderID string, commit *protocol.CommitData)) {
	h.mu.Lock()
	h.onCommit = callback
	h.mu.Unlock()
}

// OnState sets the callback for playback state changes
func (h *Hub) OnState(callback func(decoderID string, state *protocol.StateData)) {
	h.mu.Lock()
	h.onState = callback
	h.mu.Unlock()
}

// RegisterRoutes registers websocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/decoder", websocket.New(h.handleDecoder))
	app.Get("/ws/decoder/:id", websocket.New(h.handleDecoder))
}

// handleDecoder handles a decoder websocket connection. The id comes from
// the path, else from the hello message, else it is generated.
func (h *Hub) handleDecoder(c *websocket.Conn) {
	id := c.Params("id")

	var first *protocol.Message
	if id == "" {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		first, err = protocol.ParseMessage(data)
		if err == nil && first.Type == protocol.TypeHello {
			if hello, err := first.GetHelloData(); err == nil {
				id = hello.ClientID
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
	}

	now := time.Now()
	dec := &DecoderConnection{
		ID:        id,
		Conn:      c,
		Connected: now,
		lastSeen:  now,
	}

	h.mu.Lock()
	h.decoders[id] = dec
	count := len(h.decoders)
	h.mu.Unlock()
	h.logger.Info("decoder connected", "decoder", id, "total", count)

	defer func() {
		h.mu.Lock()
		if h.decoders[id] == dec {
			delete(h.decoders, id)
		}
		count := len(h.decoders)
		h.mu.Unlock()
		h.logger.Info("decoder disconnected", "decoder", id, "total", count)
	}()

	if first != nil {
		h.messagesReceived.Add(1)
		h.handleMessage(dec, first)
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("decoder read error", "decoder", id, "error", err)
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			h.logger.Debug("parse error", "decoder", id, "error", err)
			continue
		}
		h.messagesReceived.Add(1)
		h.handleMessage(dec, msg)
	}
}

// handleMessage processes an incoming message from a decoder
func (h *Hub) handleMessage(dec *DecoderConnection, msg *protocol.Message) {
	dec.mu.Lock()
	dec.lastSeen = time.Now()
	dec.mu.Unlock()

	h.mu.RLock()
	commitCb := h.onCommit
	stateCb := h.onState
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeHello:
		if hello, err := msg.GetHelloData(); err == nil {
			dec.mu.Lock()
			dec.version = hello.Version
			dec.mu.Unlock()
		}

	case protocol.TypeCommit:
		commit, err := msg.GetCommitData()
		if err != nil {
			return
		}
		h.commitsReceived.Add(1)
		dec.mu.Lock()
		dec.text = commit.Text
		dec.commits++
		dec.mu.Unlock()
		if commitCb != nil {
			commitCb(dec.ID, commit)
		}

	case protocol.TypeState:
		state, err := msg.GetStateData()
		if err != nil {
			return
		}
		dec.mu.Lock()
		dec.state = state.State
		dec.text = state.Text
		dec.mu.Unlock()
		if stateCb != nil {
			stateCb(dec.ID, state)
		}

	case protocol.TypePing:
		if ping, err := msg.GetPingData(); err == nil {
			h.sendPong(dec, ping)
		}

	case protocol.TypePong:
		if pong, err := msg.GetPongData(); err == nil {
			dec.mu.Lock()
			dec.latencyMs = time.Now().UnixMilli() - pong.PingTS
			dec.mu.Unlock()
		}
	}
}

func (h *Hub) sendPong(dec *DecoderConnection, ping *protocol.PingData) {
	msg, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	h.messagesSent.Add(1)
	if err := dec.Send(msg); err != nil {
		h.logger.Debug("pong failed", "decoder", dec.ID, "error", err)
	}
}

// Ping sends a ping to a decoder; the pong updates its latency
func (h *Hub) Ping(decoderID string) error {
	msg, err := protocol.NewPingMessage(uuid.NewString(), time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendTo(decoderID, msg)
}

// sendTo sends a message to a specific decoder
func (h *Hub) sendTo(decoderID string, msg *protocol.Message) error {
	dec := h.GetDecoder(decoderID)
	if dec == nil {
		return fiber.NewError(fiber.StatusNotFound, "decoder not connected")
	}

	h.messagesSent.Add(1)
	return dec.Send(msg)
}

// GetDecoder returns a decoder connection by ID
func (h *Hub) GetDecoder(decoderID string) *DecoderConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.decoders[decoderID]
}

// DecoderCount returns the number of connected decoders
func (h *Hub) DecoderCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.decoders)
}

// DecoderInfos returns info about all connected decoders
func (h *Hub) DecoderInfos() []DecoderInfo {
	h.mu.RLock()
	decoders := make([]*DecoderConnection, 0, len(h.decoders))
	for _, d := range h.decoders {
		decoders = append(decoders, d)
	}
	h.mu.RUnlock()

	infos := make([]DecoderInfo, 0, len(decoders))
	for _, d := range decoders {
		infos = append(infos, d.Info())
	}
	return infos
}

// Stats contains hub statistics
type Stats struct {
	DecoderCount     int    `json:"decoder_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	CommitsReceived  uint64 `json:"commits_received"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		DecoderCount:     h.DecoderCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		CommitsReceived:  h.commitsReceived.Load(),
	}
}

// RegisterAPIRoutes registers API routes for decoder management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	decoders := api.Group("/decoders")

	decoders.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"decoders": h.DecoderInfos(),
			"count":    h.DecoderCount(),
		})
	})

	decoders.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	decoders.Get("/:id", func(c *fiber.Ctx) error {
		dec := h.GetDecoder(c.Params("id"))
		if dec == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "decoder not connected"})
		}
		return c.JSON(dec.Info())
	})

	decoders.Post("/:id/ping", func(c *fiber.Ctx) error {
		if err := h.Ping(c.Params("id")); err != nil {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}
