// Semaphore decodes flag semaphore from a camera, a video file or a
// scripted demo performer and publishes the decoded text.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-semaphore/internal/config"
	"github.com/teslashibe/go-semaphore/internal/log"
	"github.com/teslashibe/go-semaphore/pkg/app"
	"github.com/teslashibe/go-semaphore/pkg/debug"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)

	a, err := app.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}

	if cfg.Headless {
		fmt.Println(a.Decoder().Snapshot().Text)
	}
}

// parseFlags loads the config file, applies environment overrides and
// then command line flags.
func parseFlags() (config.Config, error) {
	path := flag.String("config", "", "YAML configuration file")
	lang := flag.String("lang", "", "Alphabet: en or uk (overrides SEMAPHORE_LANG)")
	dwell := flag.String("dwell", "", "Dwell time, seconds or duration (overrides SEMAPHORE_DWELL)")
	source := flag.String("source", "", "Frame source: camera, file or demo")
	device := flag.Int("device", -1, "Camera device index")
	file := flag.String("file", "", "Video file to decode (implies -source file)")
	demoText := flag.String("demo-text", "", "Text spelled by the demo performer")
	backend := flag.String("pose", "", "Pose backend: openpose or synthetic")
	model := flag.String("model", "", "OpenPose caffemodel path")
	proto := flag.String("proto", "", "OpenPose prototxt path")
	addr := flag.String("addr", "", "Dashboard listen address")
	static := flag.String("static", "", "Directory served by the dashboard")
	headless := flag.Bool("headless", false, "Run without the dashboard and start decoding immediately")
	broker := flag.String("mqtt", "", "MQTT broker (overrides MQTT_BROKER)")
	relayURL := flag.String("relay", "", "Relay websocket URL (overrides RELAY_URL)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: text or json")
	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	trace := flag.Bool("debug-trace", false, "Log every sample (very verbose)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *lang != "" {
		cfg.Language = *lang
	}
	if *dwell != "" {
		d, err := config.ParseDwell(*dwell)
		if err != nil {
			return cfg, &config.ConfigError{Field: "dwell", Message: err.Error()}
		}
		cfg.Dwell = d
	}
	if *file != "" {
		cfg.Source.Kind = config.SourceFile
		cfg.Source.Path = *file
	}
	if *source != "" {
		cfg.Source.Kind = *source
	}
	if *device >= 0 {
		cfg.Source.Device = *device
	}
	if *demoText != "" {
		cfg.Source.DemoText = *demoText
	}
	if *backend != "" {
		cfg.Pose.Backend = *backend
	} else if cfg.Source.Kind != config.SourceDemo && cfg.Pose.Backend == config.BackendSynthetic {
		// real footage needs a real model
		cfg.Pose.Backend = config.BackendOpenPose
	}
	if *model != "" {
		cfg.Pose.OpenPose.ModelPath = *model
	}
	if *proto != "" {
		cfg.Pose.OpenPose.ConfigPath = *proto
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}
	if *static != "" {
		cfg.Web.StaticDir = *static
	}
	if set["headless"] {
		cfg.Headless = *headless
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	debug.Enabled = *debugFlag
	debug.Trace = *trace
	if debug.Enabled && !set["log-level"] {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}
