// Package app wires the decoder to its frame source, pose estimator and
// outputs for cmd/semaphore.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-semaphore/internal/config"
	"github.com/teslashibe/go-semaphore/internal/log"
	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/capture/opencv"
	"github.com/teslashibe/go-semaphore/pkg/emitter"
	"github.com/teslashibe/go-semaphore/pkg/pipeline"
	"github.com/teslashibe/go-semaphore/pkg/pose"
	"github.com/teslashibe/go-semaphore/pkg/pose/openpose"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/relay"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/settings"
	"github.com/teslashibe/go-semaphore/pkg/web"
)

// demoGreeting is spelled by the demo source when no text is configured.
var demoGreeting = map[semaphore.Language]string{
	semaphore.English:   "HELLO WORLD",
	semaphore.Ukrainian: "ПРИВІТ",
}

// demoRest is the number of empty frames between demo positions; it is
// longer than the letter buffer so repeated letters commit twice.
const demoRest = 15

// App is the decoder application.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	settings  *settings.Manager
	estimator pose.Estimator
	synthetic *pose.SyntheticEstimator
	decoder   *pipeline.Decoder

	web     *web.Server
	emitter *emitter.Emitter
	relay   *relay.Client

	// halted is closed in headless mode when the session has drained
	halted   chan struct{}
	haltOnce sync.Once
}

// New validates cfg and creates the application.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &App{
		cfg:    cfg,
		logger: log.Component(nil, "app"),
		halted: make(chan struct{}),
	}, nil
}

// Init creates all components. Call it after New and before Run.
func (a *App) Init(ctx context.Context) error {
	a.settings = settings.NewManager(a.cfg.Settings())

	if err := a.initEstimator(); err != nil {
		return fmt.Errorf("pose init: %w", err)
	}

	a.decoder = pipeline.New(a.cfg.Pipeline, a.estimator, a.settings, pipeline.WithLogger(log.L()))
	a.decoder.Observe(pipeline.Funcs{
		Commit: a.onCommit,
		State:  a.onState,
	})

	if !a.cfg.Headless {
		a.web = web.NewServer(a.cfg.Web, a.decoder, a.Open, log.L())
		a.decoder.Observe(a.web)
	}

	if a.cfg.MQTT.Enabled() {
		em, err := emitter.Connect(ctx, a.cfg.MQTT, log.L())
		if err != nil {
			return fmt.Errorf("mqtt init: %w", err)
		}
		a.emitter = em
		a.decoder.Observe(em)
	}

	if a.cfg.Relay.Enabled() {
		a.relay = relay.New(a.cfg.Relay, log.L())
		a.decoder.Observe(a.relay)
	}

	a.logger.Info("initialized",
		"source", a.cfg.Source.Kind,
		"pose", a.cfg.Pose.Backend,
		"language", a.settings.Language(),
		"dwell", a.settings.Dwell(),
		"headless", a.cfg.Headless,
		"mqtt", a.emitter != nil,
		"relay", a.relay != nil,
	)
	return nil
}

func (a *App) initEstimator() error {
	switch a.cfg.Pose.Backend {
	case config.BackendOpenPose:
		est, err := openpose.New(a.cfg.Pose.OpenPose)
		if err != nil {
			return err
		}
		a.estimator = est
		a.cfg.Pipeline.Pose.Joints = pose.COCOJoints
	default:
		a.synthetic = pose.NewSyntheticEstimator(pose.MediaPipeJoints, nil)
		a.estimator = a.synthetic
		a.cfg.Pipeline.Pose.Joints = pose.MediaPipeJoints
	}
	return nil
}

// Decoder returns the decoder. It is nil before Init.
func (a *App) Decoder() *pipeline.Decoder {
	return a.decoder
}

// Open opens the configured frame source. It is the decoder's opener for
// every session.
func (a *App) Open() (capture.Source, error) {
	var (
		src *opencv.Source
		err error
	)
	switch a.cfg.Source.Kind {
	case config.SourceCamera:
		src, err = opencv.OpenCamera(a.cfg.Source.Device, a.cfg.Source.Capture)
	case config.SourceFile:
		src, err = opencv.OpenFile(a.cfg.Source.Path, a.cfg.Source.Capture)
	default:
		return a.openDemo()
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// openDemo scripts the synthetic performer to spell the demo text in the
// active language, ending with the stop signal.
func (a *App) openDemo() (capture.Source, error) {
	st := a.settings.Get()
	table, ok := semaphore.TableFor(st.Language)
	if !ok {
		return nil, fmt.Errorf("demo: no table for %q", st.Language)
	}

	text := a.cfg.Source.DemoText
	if text == "" {
		text = demoGreeting[st.Language]
	}
	pairs, err := table.Spell(text, true)
	if err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}

	interval := a.cfg.Source.DemoInterval
	hold := a.cfg.Source.DemoHold
	if hold == 0 {
		hold = int((st.Dwell+500*time.Millisecond)/interval) + 1
	}
	a.synthetic.SetScript(pose.Perform(pose.FromPairs(pairs), hold, demoRest))

	total := len(pairs) * (hold + demoRest)
	a.logger.Info("demo source", "text", text, "positions", len(pairs), "frames", total)
	return capture.NewMockSource(total,
		capture.WithInterval(interval),
		capture.WithSize(a.cfg.Source.Capture.Width, a.cfg.Source.Capture.Height),
	), nil
}

func (a *App) onCommit(d protocol.CommitData) {
	a.logger.Info("committed", "symbol", d.Symbol, "kind", d.Kind, "text", d.Text)
}

func (a *App) onState(d protocol.StateData) {
	a.logger.Info("playback", "state", d.State, "reason", d.Reason, "epoch", d.Epoch, "halted", d.Halted)
	if a.cfg.Headless && d.Halted {
		a.haltOnce.Do(func() {
			a.logger.Info("session finished", "session", d.Session, "reason", d.Reason, "text", d.Text)
			close(a.halted)
		})
	}
}

// Run starts the decoder and every enabled output and blocks until ctx is
// cancelled. In headless mode the session starts immediately and Run
// returns once it has finished.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("component failed", "component", name, "error", err)
				cancel()
			}
		}()
	}

	spawn("decoder", a.decoder.Run)
	if a.web != nil {
		spawn("web", a.web.Run)
	}
	if a.emitter != nil {
		spawn("emitter", func(ctx context.Context) error {
			a.emitter.Run(ctx)
			return nil
		})
	}
	if a.relay != nil {
		spawn("relay", a.relay.Run)
	}

	var err error
	if a.cfg.Headless {
		if err = a.decoder.Start(a.Open); err != nil {
			cancel()
		}
	}

	select {
	case <-ctx.Done():
	case <-a.halted:
		cancel()
	}
	wg.Wait()
	return err
}

// Shutdown releases the estimator.
func (a *App) Shutdown() {
	if a.estimator != nil {
		if err := a.estimator.Close(); err != nil {
			a.logger.Warn("failed to close estimator", "error", err)
		}
	}
	a.logger.Info("goodbye")
}
