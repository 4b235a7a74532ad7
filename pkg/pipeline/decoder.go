// Package pipeline runs the decoding loop.
//
// A Decoder owns two goroutines connected by a bounded sample stream:
//
//	producer: source.Next → estimator → extractor → stream.Push
//	consumer: stream.Pop → classify → stability engine → observers
//
// The producer only reads frames while playback is Playing; the consumer
// drains the stream until it is halted by a committed Stop symbol or by
// the end of an exhausted source. Observers receive plain event values
// and must not block.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/debug"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/pose"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/settings"
	"github.com/teslashibe/go-semaphore/pkg/stability"
	"github.com/teslashibe/go-semaphore/pkg/stream"
)

// Config holds decoder configuration.
type Config struct {
	// StreamCapacity bounds the sample stream; the oldest sample is
	// dropped when it is full.
	StreamCapacity int `yaml:"stream_capacity" json:"stream_capacity"`

	// MaxReadFailures is the number of consecutive frame read errors
	// after which the source is treated as exhausted.
	MaxReadFailures int `yaml:"max_read_failures" json:"max_read_failures"`

	// PreviewInterval rate-limits preview frames sent to observers.
	// Zero forwards every frame.
	PreviewInterval time.Duration `yaml:"preview_interval" json:"preview_interval"`

	Stability stability.Config `yaml:"stability" json:"stability"`
	Pose      pose.Config      `yaml:"pose" json:"pose"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StreamCapacity:  stream.DefaultCapacity,
		MaxReadFailures: 30,
		PreviewInterval: 66 * time.Millisecond,
		Stability:       stability.DefaultConfig(),
		Pose:            pose.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StreamCapacity <= 0 {
		return fmt.Errorf("stream_capacity must be positive, got %d", c.StreamCapacity)
	}
	if c.MaxReadFailures <= 0 {
		return fmt.Errorf("max_read_failures must be positive, got %d", c.MaxReadFailures)
	}
	if c.PreviewInterval < 0 {
		return fmt.Errorf("preview_interval must not be negative, got %v", c.PreviewInterval)
	}
	return c.Stability.Validate()
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithClock replaces the clock used to time the dwell.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// Decoder runs the producer and consumer loops and exposes the control
// API used by the presentation layer.
type Decoder struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	estimator pose.Estimator
	extractor *pose.Extractor
	stream    *stream.Stream
	engine    *stability.Engine
	ctrl      *playback.Controller
	settings  *settings.Manager

	// mu serializes sample processing with Restart and with closing
	// the stream on exhaustion.
	mu sync.Mutex

	sessMu  sync.RWMutex
	session string

	obsMu     sync.RWMutex
	observers []Observer

	// producer only
	lastPreview time.Time

	frames  atomic.Uint64
	samples atomic.Uint64
	stale   atomic.Uint64
}

// New creates a decoder. Invalid configuration values fall back to
// defaults.
func New(cfg Config, est pose.Estimator, sm *settings.Manager, opts ...Option) *Decoder {
	def := DefaultConfig()
	if cfg.StreamCapacity <= 0 {
		cfg.StreamCapacity = def.StreamCapacity
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = def.MaxReadFailures
	}
	if cfg.PreviewInterval < 0 {
		cfg.PreviewInterval = 0
	}
	if sm == nil {
		sm = settings.NewManager(settings.Default())
	}

	d := &Decoder{
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		estimator: est,
		extractor: pose.NewExtractor(cfg.Pose),
		stream:    stream.New(cfg.StreamCapacity),
		settings:  sm,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctrl = playback.New(d.logger)
	d.logger = d.logger.With("component", "decoder")

	cfg.Stability.DwellDuration = sm.Dwell()
	d.engine = stability.New(cfg.Stability)

	sm.OnChange(func(s settings.Settings) {
		d.engine.SetDwell(s.Dwell)
		d.logger.Info("settings changed", "language", s.Language, "dwell", s.Dwell)
	})
	d.ctrl.OnChange(d.emitState)

	return d
}

// Observe registers an observer. Observers added after Run starts receive
// subsequent events only.
func (d *Decoder) Observe(o Observer) {
	d.obsMu.Lock()
	d.observers = append(d.observers, o)
	d.obsMu.Unlock()
}

// Settings returns the settings manager.
func (d *Decoder) Settings() *settings.Manager {
	return d.settings
}

// Run starts the producer and consumer and blocks until ctx is done and
// both have exited. The attached source is released on return.
func (d *Decoder) Run(ctx context.Context) error {
	d.logger.Info("decoder running",
		"stream_capacity", d.cfg.StreamCapacity,
		"language", d.settings.Language(),
		"dwell", d.engine.Dwell(),
	)
	d.emitState(d.ctrl.Status())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.produce(ctx)
	}()
	go func() {
		defer wg.Done()
		d.consume(ctx)
	}()
	wg.Wait()

	if err := d.ctrl.Close(); err != nil {
		d.logger.Warn("failed to close source", "error", err)
	}
	d.logger.Info("decoder stopped", "frames", d.frames.Load(), "samples", d.samples.Load())
	return ctx.Err()
}

// Start opens a source and begins a new session.
func (d *Decoder) Start(open playback.Opener) error {
	return d.ctrl.Start(func() (capture.Source, error) {
		src, err := open()
		if err == nil && src != nil {
			d.setSession(uuid.NewString())
		}
		return src, err
	})
}

// TogglePause switches between playing and paused.
func (d *Decoder) TogglePause() (playback.State, error) {
	return d.ctrl.TogglePause()
}

// Restart discards the session: the source is released, queued samples
// and session text are cleared and playback returns to Idle.
func (d *Decoder) Restart() playback.Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stream.Reset()
	d.engine.Reset()
	d.setSession("")
	return d.ctrl.Restart()
}

// Text returns the committed session text.
func (d *Decoder) Text() string {
	return d.engine.Text()
}

// Session returns the current session id, empty while idle.
func (d *Decoder) Session() string {
	d.sessMu.RLock()
	defer d.sessMu.RUnlock()
	return d.session
}

func (d *Decoder) setSession(id string) {
	d.sessMu.Lock()
	d.session = id
	d.sessMu.Unlock()
}

// Snapshot is a point-in-time view of the decoder.
type Snapshot struct {
	Playback playback.Status
	Session  string
	Text     string
	Display  semaphore.Symbol
	Held     bool
	Settings settings.Settings
	Stream   stream.Stats
	Frames   uint64
	Samples  uint64
	Stale    uint64
	Commits  int
}

// Snapshot returns the decoder's current state and counters.
func (d *Decoder) Snapshot() Snapshot {
	st := d.engine.State()
	display := semaphore.UnknownSymbol
	if st.HasCandidate {
		display = st.Candidate
	}
	return Snapshot{
		Playback: d.ctrl.Status(),
		Session:  d.Session(),
		Text:     d.engine.Text(),
		Display:  display,
		Held:     st.Held,
		Settings: d.settings.Get(),
		Stream:   d.stream.Stats(),
		Frames:   d.frames.Load(),
		Samples:  d.samples.Load(),
		Stale:    d.stale.Load(),
		Commits:  d.engine.Commits(),
	}
}

// produce reads frames while playing and pushes angle samples.
func (d *Decoder) produce(ctx context.Context) {
	var (
		failures  int
		lastEpoch uint64
	)

	for {
		src, epoch, err := d.ctrl.AwaitPlaying(ctx)
		if err != nil {
			return
		}
		if epoch != lastEpoch {
			failures, lastEpoch = 0, epoch
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, capture.ErrEndOfStream) {
				d.logger.Info("source exhausted", "source", src.Name(), "epoch", epoch)
				d.exhaust(epoch)
				continue
			}

			failures++
			if !errors.Is(err, capture.ErrClosed) {
				d.logger.Warn("frame read failed", "error", err, "failures", failures)
			}
			if failures >= d.cfg.MaxReadFailures {
				d.logger.Error("too many read failures, treating source as exhausted",
					"source", src.Name(), "failures", failures)
				d.exhaust(epoch)
			}
			continue
		}
		failures = 0
		d.frames.Add(1)
		d.preview(frame)

		landmarks, err := d.estimator.Estimate(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			debug.Log("pose estimation failed", "frame", frame.Seq, "error", err)
			landmarks = nil
		}

		sample := d.extractor.Extract(landmarks, frame.Width, frame.Height)
		sample.Seq = frame.Seq
		sample.Epoch = epoch
		sample.At = frame.At

		d.stream.Push(sample)
		d.samples.Add(1)
		debug.TraceLog("sample", "seq", sample.Seq, "right", sample.Right, "left", sample.Left)
	}
}

// exhaust stops the session of epoch and closes the stream so that the
// consumer halts once it has drained.
func (d *Decoder) exhaust(epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctrl.Exhausted(epoch) {
		d.stream.Close()
	}
}

// consume drains the stream until halted.
func (d *Decoder) consume(ctx context.Context) {
	for {
		if _, err := d.ctrl.AwaitConsuming(ctx); err != nil {
			return
		}

		sample, err := d.stream.Pop(ctx)
		if errors.Is(err, stream.ErrEndOfStream) {
			d.drained()
			continue
		}
		if err != nil {
			return
		}
		d.process(sample)
	}
}

// drained halts the consumer once the stream of the current session has
// been closed and emptied.
func (d *Decoder) drained() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream.Closed() && d.stream.Len() == 0 {
		if d.ctrl.Halt(d.ctrl.Epoch()) {
			d.logger.Info("stream drained", "text", d.engine.Text())
		}
	}
}

// process classifies one sample and advances the stability engine.
func (d *Decoder) process(sample semaphore.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sample.Epoch != d.ctrl.Epoch() {
		d.stale.Add(1)
		return
	}

	sym := semaphore.ClassifySample(sample, d.settings.Language())
	upd := d.engine.Advance(sym, d.now())

	d.emitSymbol(sample, upd)
	if upd.Commit == nil {
		return
	}

	d.logger.Info("symbol committed",
		"symbol", upd.Commit.Symbol,
		"effect", upd.Commit.Effect,
		"text", upd.Text,
	)
	d.emitCommit(sample.Epoch, upd)

	if upd.Commit.Effect == stability.EffectStop {
		d.ctrl.Stop(sample.Epoch, playback.StopSymbol)
	}
}

func (d *Decoder) preview(frame capture.Frame) {
	if len(frame.JPEG) == 0 {
		return
	}
	now := time.Now()
	if d.cfg.PreviewInterval > 0 && now.Sub(d.lastPreview) < d.cfg.PreviewInterval {
		return
	}
	d.lastPreview = now

	for _, o := range d.snapshotObservers() {
		o.OnFrame(frame)
	}
}
