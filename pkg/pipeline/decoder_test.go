package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/pose"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
	"github.com/teslashibe/go-semaphore/pkg/settings"
)

const framesPerPose = 20

// stepClock advances by step on every reading, so the dwell is measured
// in processed samples.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// recorder collects decoder events.
type recorder struct {
	mu      sync.Mutex
	symbols []protocol.SymbolData
	commits []protocol.CommitData
	states  []protocol.StateData
	frames  int
	stateCh chan protocol.StateData
}

func newRecorder() *recorder {
	return &recorder{stateCh: make(chan protocol.StateData, 64)}
}

func (r *recorder) OnSymbol(d protocol.SymbolData) {
	r.mu.Lock()
	r.symbols = append(r.symbols, d)
	r.mu.Unlock()
}

func (r *recorder) OnCommit(d protocol.CommitData) {
	r.mu.Lock()
	r.commits = append(r.commits, d)
	r.mu.Unlock()
}

func (r *recorder) OnState(d protocol.StateData) {
	r.mu.Lock()
	r.states = append(r.states, d)
	r.mu.Unlock()
	select {
	case r.stateCh <- d:
	default:
	}
}

func (r *recorder) OnFrame(capture.Frame) {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
}

func (r *recorder) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func (r *recorder) waitState(t *testing.T, state string) protocol.StateData {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st := <-r.stateCh:
			if st.State == state {
				return st
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %q", state)
		}
	}
}

// spelling builds a source and estimator that signal text, followed by
// tail frames with nobody in view.
func spelling(t *testing.T, lang semaphore.Language, text string, stop bool, tail int) (playback.Opener, *pose.SyntheticEstimator, *capture.MockSource) {
	t.Helper()
	table, _ := semaphore.TableFor(lang)
	pairs, err := table.Spell(text, stop)
	if err != nil {
		t.Fatalf("Spell(%q): %v", text, err)
	}

	src := capture.NewMockSource(len(pairs)*framesPerPose+tail, capture.WithInterval(2*time.Millisecond))
	est := pose.NewSyntheticEstimator(pose.MediaPipeJoints, pose.Hold(pose.FromPairs(pairs), framesPerPose))
	return func() (capture.Source, error) { return src, nil }, est, src
}

// swappable lets a test replace the estimator between sessions.
type swappable struct {
	mu  sync.Mutex
	est pose.Estimator
}

func (s *swappable) set(est pose.Estimator) {
	s.mu.Lock()
	s.est = est
	s.mu.Unlock()
}

func (s *swappable) Estimate(ctx context.Context, frame capture.Frame) ([]pose.Landmark, error) {
	s.mu.Lock()
	est := s.est
	s.mu.Unlock()
	return est.Estimate(ctx, frame)
}

func (s *swappable) Close() error { return nil }

type fixture struct {
	dec    *Decoder
	rec    *recorder
	cancel context.CancelFunc
	done   chan error
}

func newFixture(t *testing.T, est pose.Estimator, s settings.Settings) *fixture {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: 100 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dec := New(DefaultConfig(), est, settings.NewManager(s), WithClock(clock.Now), WithLogger(logger))
	rec := newRecorder()
	dec.Observe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dec.Run(ctx) }()

	f := &fixture{dec: dec, rec: rec, cancel: cancel, done: done}
	t.Cleanup(f.stop)
	rec.waitState(t, "idle")
	return f
}

func (f *fixture) stop() {
	f.cancel()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
	}
}

func fastSettings(lang semaphore.Language) settings.Settings {
	return settings.Settings{Language: lang, Dwell: 500 * time.Millisecond}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDecoder_StopSymbolHaltsUntilRestart(t *testing.T) {
	open, first, src := spelling(t, semaphore.English, "HI", true, 100)
	est := &swappable{est: first}
	f := newFixture(t, est, fastSettings(semaphore.English))

	if err := f.dec.Start(open); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	playing := f.rec.waitState(t, "playing")
	if playing.Session == "" {
		t.Error("playing state should carry a session id")
	}

	st := f.rec.waitState(t, "stopped")
	if st.Reason != "stop_symbol" {
		t.Errorf("reason = %q, want stop_symbol", st.Reason)
	}
	if got := f.dec.Text(); got != "HI" {
		t.Errorf("text = %q, want HI", got)
	}
	if !src.Closed() {
		t.Error("source should be released on stop")
	}

	snap := f.dec.Snapshot()
	if !snap.Playback.Halted {
		t.Error("consumer should be halted after a stop symbol")
	}
	commits := f.rec.commitCount()
	if commits != 3 {
		t.Errorf("commits = %d, want 3 (H, I, stop)", commits)
	}

	// nothing changes while halted
	time.Sleep(30 * time.Millisecond)
	if f.dec.Text() != "HI" || f.rec.commitCount() != commits {
		t.Error("decoder advanced while halted")
	}

	status := f.dec.Restart()
	if status.State != playback.Idle {
		t.Errorf("state after restart = %v", status.State)
	}
	idle := f.rec.waitState(t, "idle")
	if !idle.Placeholder || idle.Text != "" || idle.Session != "" {
		t.Errorf("idle state = %+v", idle)
	}
	if f.dec.Text() != "" {
		t.Errorf("text after restart = %q", f.dec.Text())
	}

	open2, second, _ := spelling(t, semaphore.English, "OK", true, 100)
	est.set(second)
	if err := f.dec.Start(open2); err != nil {
		t.Fatalf("Start() after restart: %v", err)
	}
	f.rec.waitState(t, "stopped")
	if got := f.dec.Text(); got != "OK" {
		t.Errorf("text after second session = %q, want OK", got)
	}
}

func TestDecoder_SourceExhaustion(t *testing.T) {
	open, est, _ := spelling(t, semaphore.English, "AB", false, 0)
	f := newFixture(t, est, fastSettings(semaphore.English))

	if err := f.dec.Start(open); err != nil {
		t.Fatal(err)
	}

	st := f.rec.waitState(t, "stopped")
	if st.Reason != "source_exhausted" {
		t.Errorf("reason = %q, want source_exhausted", st.Reason)
	}

	waitFor(t, "consumer to drain", func() bool { return f.dec.Snapshot().Playback.Halted })

	snap := f.dec.Snapshot()
	if snap.Text != "AB" {
		t.Errorf("text = %q, want AB", snap.Text)
	}
	if snap.Stream.Len != 0 || !snap.Stream.Closed {
		t.Errorf("stream = %+v, want closed and drained", snap.Stream)
	}
	if snap.Frames != 2*framesPerPose {
		t.Errorf("frames = %d, want %d", snap.Frames, 2*framesPerPose)
	}

	// restart reopens the stream
	f.dec.Restart()
	snap = f.dec.Snapshot()
	if snap.Stream.Closed || snap.Playback.Halted || snap.Text != "" {
		t.Errorf("after restart = %+v", snap)
	}
}

func TestDecoder_LanguageSelectsTable(t *testing.T) {
	tests := []struct {
		lang semaphore.Language
		want string
	}{
		{semaphore.English, "A"},
		{semaphore.Ukrainian, "Н"},
	}

	for _, tc := range tests {
		t.Run(string(tc.lang), func(t *testing.T) {
			clock := &stepClock{t: time.Unix(0, 0), step: 100 * time.Millisecond}
			dec := New(DefaultConfig(), nil, settings.NewManager(fastSettings(tc.lang)), WithClock(clock.Now))

			for i := 0; i < framesPerPose; i++ {
				dec.process(semaphore.Sample{
					Right: semaphore.Known(135),
					Left:  semaphore.Known(90),
					Seq:   uint64(i + 1),
				})
			}
			if got := dec.Text(); got != tc.want {
				t.Errorf("text = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecoder_StaleSamplesDropped(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0), step: time.Second}
	dec := New(DefaultConfig(), nil, nil, WithClock(clock.Now))
	rec := newRecorder()
	dec.Observe(rec)

	for i := 0; i < framesPerPose; i++ {
		dec.process(semaphore.Sample{
			Right: semaphore.Known(135),
			Left:  semaphore.Known(90),
			Epoch: 7,
		})
	}

	snap := dec.Snapshot()
	if snap.Stale != framesPerPose {
		t.Errorf("stale = %d, want %d", snap.Stale, framesPerPose)
	}
	if snap.Text != "" || len(rec.symbols) != 0 {
		t.Error("stale samples must not reach the engine")
	}
}

func TestDecoder_SymbolEvents(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0), step: time.Second}
	dec := New(DefaultConfig(), nil, nil, WithClock(clock.Now))
	rec := newRecorder()
	dec.Observe(rec)

	dec.process(semaphore.Sample{Right: semaphore.Known(135), Seq: 1})
	dec.process(semaphore.Sample{Right: semaphore.Known(135), Left: semaphore.Known(90), Seq: 2})

	if len(rec.symbols) != 2 {
		t.Fatalf("symbols = %d, want 2", len(rec.symbols))
	}
	first := rec.symbols[0]
	if first.Kind != "unknown" || first.LeftAngle != nil || first.RightAngle == nil || *first.RightAngle != 135 {
		t.Errorf("first = %+v", first)
	}
	second := rec.symbols[1]
	if second.Symbol != "A" || second.Kind != "letter" || second.Stable {
		t.Errorf("second = %+v", second)
	}
}

func TestDecoder_SettingsUpdateDwell(t *testing.T) {
	sm := settings.NewManager(settings.Default())
	dec := New(DefaultConfig(), nil, sm)

	if err := sm.Update(map[string]any{"dwell": 0.5}); err != nil {
		t.Fatal(err)
	}
	if got := dec.engine.Dwell(); got != 500*time.Millisecond {
		t.Errorf("engine dwell = %v, want 500ms", got)
	}
}

func TestDecoder_PauseGatesProducer(t *testing.T) {
	src := capture.NewMockSource(-1, capture.WithInterval(2*time.Millisecond))
	est := pose.NewSyntheticEstimator(pose.MediaPipeJoints, pose.Hold(nil, 1))
	f := newFixture(t, est, settings.Default())

	if _, err := f.dec.TogglePause(); !errors.Is(err, playback.ErrInvalidTransition) {
		t.Errorf("pause while idle error = %v, want ErrInvalidTransition", err)
	}

	if err := f.dec.Start(func() (capture.Source, error) { return src, nil }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool { return src.Delivered() > 5 })

	state, err := f.dec.TogglePause()
	if err != nil || state != playback.Paused {
		t.Fatalf("TogglePause() = %v, %v", state, err)
	}
	time.Sleep(20 * time.Millisecond)
	paused := src.Delivered()
	time.Sleep(50 * time.Millisecond)
	if got := src.Delivered(); got > paused+1 {
		t.Errorf("producer read %d frames while paused", got-paused)
	}

	if state, _ := f.dec.TogglePause(); state != playback.Playing {
		t.Fatalf("resume state = %v", state)
	}
	waitFor(t, "frames after resume", func() bool { return src.Delivered() > paused+5 })
}

func TestDecoder_StartFailure(t *testing.T) {
	f := newFixture(t, pose.NewSyntheticEstimator(pose.MediaPipeJoints, pose.Hold(nil, 1)), settings.Default())
	cause := errors.New("camera busy")

	err := f.dec.Start(func() (capture.Source, error) { return nil, cause })
	if !errors.Is(err, playback.ErrStartFailed) || !errors.Is(err, cause) {
		t.Errorf("Start() error = %v", err)
	}
	if snap := f.dec.Snapshot(); snap.Playback.State != playback.Idle || snap.Session != "" {
		t.Errorf("after failed start = %+v", snap.Playback)
	}
}

// failingSource returns errors that are not end-of-stream.
type failingSource struct {
	mu    sync.Mutex
	reads int
}

func (s *failingSource) Next(ctx context.Context) (capture.Frame, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return capture.Frame{}, errors.New("read timeout")
}

func (s *failingSource) Close() error { return nil }
func (s *failingSource) Name() string { return "failing" }

func TestDecoder_RepeatedReadFailuresExhaust(t *testing.T) {
	f := newFixture(t, pose.NewSyntheticEstimator(pose.MediaPipeJoints, pose.Hold(nil, 1)), settings.Default())
	src := &failingSource{}

	if err := f.dec.Start(func() (capture.Source, error) { return src, nil }); err != nil {
		t.Fatal(err)
	}
	st := f.rec.waitState(t, "stopped")
	if st.Reason != "source_exhausted" {
		t.Errorf("reason = %q", st.Reason)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.reads != DefaultConfig().MaxReadFailures {
		t.Errorf("reads = %d, want %d", src.reads, DefaultConfig().MaxReadFailures)
	}
}

// flakySource fails every few reads with a non-EOF error, like a camera
// dropping frames while it warms up.
type flakySource struct {
	capture.Source
	mu     sync.Mutex
	reads  int
	failed int
}

func (s *flakySource) Next(ctx context.Context) (capture.Frame, error) {
	s.mu.Lock()
	s.reads++
	fail := s.reads%4 == 0
	if fail {
		s.failed++
	}
	s.mu.Unlock()
	if fail {
		return capture.Frame{}, errors.New("read camera frame: empty")
	}
	return s.Source.Next(ctx)
}

func TestDecoder_TransientReadFailuresTolerated(t *testing.T) {
	open, est, _ := spelling(t, semaphore.English, "AB", false, 0)
	inner, _ := open()
	src := &flakySource{Source: inner}
	f := newFixture(t, est, fastSettings(semaphore.English))

	if err := f.dec.Start(func() (capture.Source, error) { return src, nil }); err != nil {
		t.Fatal(err)
	}
	st := f.rec.waitState(t, "stopped")
	if st.Reason != "source_exhausted" {
		t.Errorf("reason = %q, want source_exhausted", st.Reason)
	}
	waitFor(t, "consumer to drain", func() bool { return f.dec.Snapshot().Playback.Halted })

	snap := f.dec.Snapshot()
	if snap.Frames != 2*framesPerPose {
		t.Errorf("frames = %d, want %d", snap.Frames, 2*framesPerPose)
	}
	if snap.Text != "AB" {
		t.Errorf("text = %q, want AB", snap.Text)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.failed == 0 {
		t.Error("source never failed")
	}
}

func TestDecoder_UnknownHoldDoesNotCommit(t *testing.T) {
	clock := &stepClock{t: time.Unix(0, 0), step: 100 * time.Millisecond}
	dec := New(DefaultConfig(), nil, settings.NewManager(fastSettings(semaphore.English)), WithClock(clock.Now))
	rec := newRecorder()
	dec.Observe(rec)

	// nobody in view
	for i := 0; i < 40; i++ {
		dec.process(semaphore.Sample{Seq: uint64(i + 1)})
	}

	if n := rec.commitCount(); n != 0 {
		t.Errorf("commit events = %d, want 0", n)
	}
	snap := dec.Snapshot()
	if snap.Commits != 0 || snap.Text != "" {
		t.Errorf("snapshot commits = %d, text = %q", snap.Commits, snap.Text)
	}
	if last := rec.symbols[len(rec.symbols)-1]; !last.Held || last.Display != "" {
		t.Errorf("last symbol = %+v, want held with blank display", last)
	}

	for i := 0; i < framesPerPose; i++ {
		dec.process(semaphore.Sample{
			Right: semaphore.Known(135),
			Left:  semaphore.Known(90),
			Seq:   uint64(41 + i),
		})
	}
	if n := rec.commitCount(); n != 1 || rec.commits[0].Symbol != "A" {
		t.Errorf("commits = %+v, want a single A", rec.commits)
	}
}

func TestDecoder_PreviewFrames(t *testing.T) {
	src := capture.NewMockSource(5, capture.WithJPEG([]byte{0xFF, 0xD8}))
	est := pose.NewSyntheticEstimator(pose.MediaPipeJoints, pose.Hold(nil, 1))
	clock := &stepClock{t: time.Unix(0, 0), step: time.Second}

	cfg := DefaultConfig()
	cfg.PreviewInterval = 0
	dec := New(cfg, est, nil, WithClock(clock.Now))
	rec := newRecorder()
	dec.Observe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dec.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := dec.Start(func() (capture.Source, error) { return src, nil }); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, "stopped")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.frames != 5 {
		t.Errorf("preview frames = %d, want 5", rec.frames)
	}
}

func TestDecoder_RunReturnsOnCancel(t *testing.T) {
	dec := New(DefaultConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dec.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.StreamCapacity = 0
	if bad.Validate() == nil {
		t.Error("zero stream capacity should be invalid")
	}
}
