// Package config loads the decoder configuration from YAML with
// environment overrides. Flag parsing is done in cmd/semaphore; this
// package is data only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/emitter"
	"github.com/teslashibe/go-semaphore/pkg/pipeline"
	"github.com/teslashibe/go-semaphore/pkg/pose/openpose"
	"github.com/teslashibe/go-semaphore/pkg/relay"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/settings"
	"github.com/teslashibe/go-semaphore/pkg/web"
)

// Source kinds.
const (
	SourceCamera = "camera"
	SourceFile   = "file"
	SourceDemo   = "demo"
)

// Pose backends.
const (
	BackendOpenPose  = "openpose"
	BackendSynthetic = "synthetic"
)

// Config holds all configuration for the decoder.
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Language string          `yaml:"language"`
	Dwell    time.Duration   `yaml:"dwell"`
	Source   SourceConfig    `yaml:"source"`
	Pose     PoseConfig      `yaml:"pose"`
	Pipeline pipeline.Config `yaml:"pipeline"`

	// Headless disables the web dashboard
	Headless bool           `yaml:"headless"`
	Web      web.Config     `yaml:"web"`
	MQTT     emitter.Config `yaml:"mqtt"`
	Relay    relay.Config   `yaml:"relay"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// SourceConfig selects the frame source.
type SourceConfig struct {
	Kind    string         `yaml:"kind"` // "camera", "file" or "demo"
	Device  int            `yaml:"device"`
	Path    string         `yaml:"path"`
	Capture capture.Config `yaml:"capture"`

	// Demo settings for the synthetic performer. An empty DemoText uses
	// a greeting in the active language; DemoHold 0 holds each position
	// half a second longer than the dwell time.
	DemoText     string        `yaml:"demo_text"`
	DemoHold     int           `yaml:"demo_hold"` // frames per position
	DemoInterval time.Duration `yaml:"demo_frame_interval"`
}

// PoseConfig selects the pose estimator.
type PoseConfig struct {
	Backend  string          `yaml:"backend"` // "openpose" or "synthetic"
	OpenPose openpose.Config `yaml:"openpose"`
}

// Default returns the default configuration: English, 2 s dwell, the
// synthetic demo source and the dashboard on :8080.
func Default() Config {
	def := settings.Default()
	return Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Language: string(def.Language),
		Dwell:    def.Dwell,
		Source: SourceConfig{
			Kind:         SourceDemo,
			Capture:      capture.DefaultConfig(),
			DemoInterval: 33 * time.Millisecond,
		},
		Pose: PoseConfig{
			Backend:  BackendSynthetic,
			OpenPose: openpose.DefaultConfig(),
		},
		Pipeline: pipeline.DefaultConfig(),
		Web:      web.DefaultConfig(),
		MQTT:     emitter.DefaultConfig(),
		Relay:    relay.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadEnv applies environment overrides. Call it after Load and before
// flag overrides.
func (c *Config) LoadEnv() error {
	if v := os.Getenv("SEMAPHORE_LANG"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("SEMAPHORE_DWELL"); v != "" {
		d, err := ParseDwell(v)
		if err != nil {
			return &ConfigError{Field: "SEMAPHORE_DWELL", Message: err.Error()}
		}
		c.Dwell = d
	}
	if v := os.Getenv("SEMAPHORE_PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return &ConfigError{Field: "SEMAPHORE_PORT", Message: fmt.Sprintf("invalid port %q", v)}
		}
		c.Web.Addr = ":" + v
	}
	if v := os.Getenv("SEMAPHORE_SOURCE"); v != "" {
		c.Source.Kind = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("RELAY_TOKEN"); v != "" {
		c.Relay.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// ParseDwell accepts seconds ("1.5") or a Go duration ("1500ms").
func ParseDwell(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid dwell %q", s)
	}
	return d, nil
}

// Settings returns the initial runtime settings.
func (c *Config) Settings() settings.Settings {
	lang, _ := semaphore.ParseLanguage(c.Language)
	return settings.Settings{Language: lang, Dwell: c.Dwell}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, ok := semaphore.ParseLanguage(c.Language); !ok {
		return &ConfigError{Field: "language", Message: fmt.Sprintf("unknown language %q", c.Language)}
	}
	if c.Dwell <= 0 {
		return &ConfigError{Field: "dwell", Message: fmt.Sprintf("dwell must be positive, got %v", c.Dwell)}
	}

	switch c.Source.Kind {
	case SourceCamera:
	case SourceFile:
		if c.Source.Path == "" {
			return &ConfigError{Field: "source.path", Message: "source.path is required for file sources"}
		}
	case SourceDemo:
		if c.Pose.Backend != BackendSynthetic {
			return &ConfigError{Field: "pose.backend", Message: "the demo source requires the synthetic pose backend"}
		}
		if c.Source.DemoHold < 0 {
			return &ConfigError{Field: "source.demo_hold", Message: "demo_hold must not be negative"}
		}
		if c.Source.DemoInterval <= 0 {
			return &ConfigError{Field: "source.demo_frame_interval", Message: "demo_frame_interval must be positive"}
		}
	default:
		return &ConfigError{Field: "source.kind", Message: fmt.Sprintf("unknown source %q", c.Source.Kind)}
	}

	switch c.Pose.Backend {
	case BackendSynthetic:
		if c.Source.Kind != SourceDemo {
			return &ConfigError{Field: "pose.backend", Message: "the synthetic pose backend only works with the demo source"}
		}
	case BackendOpenPose:
	default:
		return &ConfigError{Field: "pose.backend", Message: fmt.Sprintf("unknown pose backend %q", c.Pose.Backend)}
	}

	if err := c.Pipeline.Validate(); err != nil {
		return &ConfigError{Field: "pipeline", Message: err.Error()}
	}
	if !c.Headless && c.Web.Addr == "" {
		return &ConfigError{Field: "web.addr", Message: "web.addr is required unless headless"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
