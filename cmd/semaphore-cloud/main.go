// semaphore-cloud collects decoded text from remote decoders connected
// through the relay client and optionally republishes it to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-semaphore/internal/log"
	"github.com/teslashibe/go-semaphore/pkg/cloud"
	"github.com/teslashibe/go-semaphore/pkg/emitter"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 8090, "HTTP server port")
	broker  = flag.String("mqtt", "", "MQTT broker to republish commits to")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}
	if *broker == "" {
		*broker = os.Getenv("MQTT_BROKER")
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := fiber.New(fiber.Config{
		AppName:               "semaphore-cloud",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(logger.New())
	}

	hub := cloud.NewHub(log.L())
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"decoders": hub.DecoderCount(),
		})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		stats := hub.GetStats()
		return c.SendString(fmt.Sprintf(`# HELP semaphore_cloud_decoders Connected decoder count
# TYPE semaphore_cloud_decoders gauge
semaphore_cloud_decoders %d

# HELP semaphore_cloud_messages_received Total messages received
# TYPE semaphore_cloud_messages_received counter
semaphore_cloud_messages_received %d

# HELP semaphore_cloud_messages_sent Total messages sent
# TYPE semaphore_cloud_messages_sent counter
semaphore_cloud_messages_sent %d

# HELP semaphore_cloud_commits_received Total committed symbols received
# TYPE semaphore_cloud_commits_received counter
semaphore_cloud_commits_received %d
`, stats.DecoderCount, stats.MessagesReceived, stats.MessagesSent, stats.CommitsReceived))
	})

	var em *emitter.Emitter
	if *broker != "" {
		cfg := emitter.DefaultConfig()
		cfg.Broker = *broker
		cfg.ClientID = "semaphore-cloud"
		var err error
		em, err = emitter.Connect(ctx, cfg, log.L())
		if err != nil {
			log.Error("mqtt connect failed", "error", err)
			os.Exit(1)
		}
		go em.Run(ctx)
	}

	hub.OnCommit(func(decoderID string, c *protocol.CommitData) {
		log.Info("commit", "decoder", decoderID, "symbol", c.Symbol, "text", c.Text)
		if em != nil {
			em.OnCommit(*c)
		}
	})
	hub.OnState(func(decoderID string, s *protocol.StateData) {
		log.Debug("state", "decoder", decoderID, "state", s.State, "reason", s.Reason)
		if em != nil {
			em.OnState(*s)
		}
	})

	go func() {
		addr := fmt.Sprintf(":%d", *port)
		log.Info("starting server",
			"addr", addr,
			"websocket", fmt.Sprintf("ws://localhost:%d/ws/decoder", *port),
			"api", fmt.Sprintf("http://localhost:%d/api/decoders", *port),
		)
		if err := app.Listen(addr); err != nil {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}
