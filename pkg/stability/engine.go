// Package stability debounces the per-frame symbol stream into committed
// text.
//
// Two filters run in sequence on every classified sample:
//
//  1. Majority vote: the symbol must occupy at least OutputThreshold of the
//     last BufferSize classifications to become the candidate.
//  2. Dwell: the candidate must stay unchanged for DwellDuration before it
//     is committed. A hold commits exactly once; the same symbol commits
//     again only after the candidate has changed away and back.
package stability

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

// Config holds the debounce parameters.
type Config struct {
	BufferSize      int           `yaml:"buffer_size" json:"buffer_size"`
	OutputThreshold int           `yaml:"output_threshold" json:"output_threshold"`
	DwellDuration   time.Duration `yaml:"dwell_duration" json:"dwell_duration"`
}

// DefaultConfig returns the original decoder's parameters.
func DefaultConfig() Config {
	return Config{
		BufferSize:      10,
		OutputThreshold: 5,
		DwellDuration:   2 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.OutputThreshold <= 0 || c.OutputThreshold > c.BufferSize {
		return fmt.Errorf("output_threshold must be in [1, %d], got %d", c.BufferSize, c.OutputThreshold)
	}
	if c.DwellDuration <= 0 {
		return fmt.Errorf("dwell_duration must be positive, got %v", c.DwellDuration)
	}
	return nil
}

// Effect is what a commit does to the session.
type Effect int

const (
	// EffectAppend appends the symbol's output to the session text.
	EffectAppend Effect = iota
	// EffectStop halts the session until restart.
	EffectStop
)

// String implements fmt.Stringer.
func (e Effect) String() string {
	switch e {
	case EffectAppend:
		return "append"
	case EffectStop:
		return "stop"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Commit describes a symbol that has been held long enough.
type Commit struct {
	Symbol semaphore.Symbol
	Effect Effect
	// Appended is the text added to the session ("" for stop).
	Appended string
	At       time.Time
}

// State is the debounce state machine.
type State struct {
	Candidate      semaphore.Symbol
	HasCandidate   bool
	CandidateSince time.Time
	Committed      semaphore.Symbol
	HasCommitted   bool
	Held           bool
}

// Update is the result of advancing the engine by one sample.
type Update struct {
	// Symbol is the classification of this sample.
	Symbol semaphore.Symbol
	// BufferStable reports whether Symbol passed the majority vote.
	BufferStable bool
	// Display is the current candidate; UnknownSymbol when there is none.
	Display semaphore.Symbol
	// Held is true while the candidate has been held past the dwell time.
	Held bool
	// Commit is set on the single sample that commits a hold.
	Commit *Commit
	// Text is the session text after this sample.
	Text string
	// Stopped is true once a Stop symbol has been committed.
	Stopped bool
}

// Engine is the debounce state machine. Advance, Reset and the accessors
// are safe for concurrent use; SetDwell may be called from any goroutine.
type Engine struct {
	bufferSize int
	threshold  int
	dwell      atomic.Int64 // nanoseconds

	mu      sync.Mutex
	window  []semaphore.Symbol
	state   State
	text    strings.Builder
	stopped bool
	commits int
}

// New creates an engine. Invalid configurations fall back to defaults
// field by field.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.OutputThreshold <= 0 || cfg.OutputThreshold > cfg.BufferSize {
		cfg.OutputThreshold = (cfg.BufferSize + 1) / 2
	}
	if cfg.DwellDuration <= 0 {
		cfg.DwellDuration = def.DwellDuration
	}

	e := &Engine{
		bufferSize: cfg.BufferSize,
		threshold:  cfg.OutputThreshold,
		window:     make([]semaphore.Symbol, 0, cfg.BufferSize+1),
	}
	e.dwell.Store(int64(cfg.DwellDuration))
	return e
}

// SetDwell changes the dwell duration for subsequent samples.
// Non-positive values are ignored.
func (e *Engine) SetDwell(d time.Duration) {
	if d > 0 {
		e.dwell.Store(int64(d))
	}
}

// Dwell returns the current dwell duration.
func (e *Engine) Dwell() time.Duration {
	return time.Duration(e.dwell.Load())
}

// Advance feeds one classified sample observed at now.
// After a Stop commit the engine ignores input until Reset.
func (e *Engine) Advance(sym semaphore.Symbol, now time.Time) Update {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return e.update(sym, false, nil)
	}

	e.window = append(e.window, sym)
	if len(e.window) > e.bufferSize {
		copy(e.window, e.window[1:])
		e.window = e.window[:len(e.window)-1]
	}

	stable := e.count(sym) >= e.threshold
	if !stable {
		return e.update(sym, false, nil)
	}

	var commit *Commit
	switch {
	case !e.state.HasCandidate || sym != e.state.Candidate:
		e.state = State{
			Candidate:      sym,
			HasCandidate:   true,
			CandidateSince: now,
		}

	case !e.state.Held && now.Sub(e.state.CandidateSince) >= e.Dwell():
		e.state.Held = true
		// a held Unknown latches but never commits
		if !sym.IsUnknown() {
			e.state.Committed = sym
			e.state.HasCommitted = true
			commit = e.commit(sym, now)
		}
	}

	return e.update(sym, true, commit)
}

func (e *Engine) commit(sym semaphore.Symbol, now time.Time) *Commit {
	c := &Commit{Symbol: sym, At: now}

	if sym.Kind == semaphore.KindStop {
		c.Effect = EffectStop
		e.stopped = true
	} else {
		c.Effect = EffectAppend
		c.Appended = sym.Output()
		e.text.WriteString(c.Appended)
	}

	e.commits++
	return c
}

func (e *Engine) update(sym semaphore.Symbol, stable bool, commit *Commit) Update {
	display := semaphore.UnknownSymbol
	if e.state.HasCandidate {
		display = e.state.Candidate
	}
	return Update{
		Symbol:       sym,
		BufferStable: stable,
		Display:      display,
		Held:         e.state.Held,
		Commit:       commit,
		Text:         e.text.String(),
		Stopped:      e.stopped,
	}
}

func (e *Engine) count(sym semaphore.Symbol) int {
	n := 0
	for _, s := range e.window {
		if s == sym {
			n++
		}
	}
	return n
}

// Reset clears the letter buffer, the candidate state and the session text.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = e.window[:0]
	e.state = State{}
	e.text.Reset()
	e.stopped = false
	e.commits = 0
}

// Text returns the committed session text.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text.String()
}

// State returns a copy of the debounce state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stopped reports whether a Stop symbol has been committed.
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Commits returns the number of commits since the last Reset.
func (e *Engine) Commits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commits
}

// Window returns a copy of the letter buffer, oldest first.
func (e *Engine) Window() []semaphore.Symbol {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]semaphore.Symbol, len(e.window))
	copy(out, e.window)
	return out
}
