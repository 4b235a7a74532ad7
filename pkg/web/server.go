// Package web serves the decoder dashboard: a REST control surface and
// websocket feeds for decoder events and preview frames.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/hub"
	"github.com/teslashibe/go-semaphore/pkg/pipeline"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/settings"
)

// Decoder is the part of the pipeline the dashboard controls.
type Decoder interface {
	Start(open playback.Opener) error
	TogglePause() (playback.State, error)
	Restart() playback.Status
	Snapshot() pipeline.Snapshot
	Settings() *settings.Manager
}

// Config configures the dashboard server.
type Config struct {
	Addr string `yaml:"addr" json:"addr"`
	// StaticDir is served at "/" when set
	StaticDir string `yaml:"static_dir" json:"static_dir"`
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	decoder Decoder
	open    playback.Opener

	// Last state, replayed to new event clients
	state   protocol.StateData
	stateMu sync.RWMutex

	events *hub.Hub
	camera *hub.Hub
}

// NewServer creates the dashboard for dec. open is used by /api/start
// to open the frame source of each new session.
func NewServer(cfg Config, dec Decoder, open playback.Opener, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		decoder: dec,
		open:    open,
		state:   protocol.StateData{State: playback.Idle.String(), Placeholder: true},
		events:  hub.New("events", logger),
		camera:  hub.New("camera", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Semaphore Decoder",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(s.logRequests)

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/start", s.handleStart)
	api.Post("/pause", s.handlePause)
	api.Post("/restart", s.handleRestart)
	api.Get("/settings", s.handleGetSettings)
	api.Put("/settings", s.handlePutSettings)
	api.Get("/settings/options", s.handleSettingsOptions)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	dec.Settings().OnChange(s.onSettings)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the hubs and serves ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.events.Run(ctx)
	go s.camera.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web dashboard listening", "addr", ln.Addr().String())
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		s.logger.Warn("web shutdown", "error", err)
	}
	return nil
}

// OnSymbol implements pipeline.Observer.
func (s *Server) OnSymbol(d protocol.SymbolData) {
	s.broadcast(protocol.NewSymbolMessage(d))
}

// OnCommit implements pipeline.Observer.
func (s *Server) OnCommit(d protocol.CommitData) {
	s.broadcast(protocol.NewCommitMessage(d))
}

// OnState implements pipeline.Observer.
func (s *Server) OnState(d protocol.StateData) {
	s.stateMu.Lock()
	s.state = d
	s.stateMu.Unlock()
	s.broadcast(protocol.NewStateMessage(d))
}

// OnFrame implements pipeline.Observer.
func (s *Server) OnFrame(f capture.Frame) {
	if len(f.JPEG) == 0 {
		return
	}
	s.camera.BroadcastBinary(f.JPEG)
}

func (s *Server) onSettings(st settings.Settings) {
	s.broadcast(protocol.NewSettingsMessage(string(st.Language), st.DwellSeconds()))
}

func (s *Server) broadcast(msg *protocol.Message, err error) {
	if err != nil {
		s.logger.Warn("failed to encode event", "error", err)
		return
	}
	out, err := hub.FromProtocol(msg)
	if err != nil {
		s.logger.Warn("failed to encode event", "type", msg.Type, "error", err)
		return
	}
	s.events.Broadcast(out)
}

func (s *Server) lastState() protocol.StateData {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
