// Package playback owns the lifecycle of a decoding session.
//
// The controller is a small state machine:
//
//	Idle ──Start──▶ Playing ⇄ Paused
//	  ▲                │        │
//	  └──Restart── Stopped ◀────┘
//
// The producer and consumer goroutines block on the controller's gates
// (AwaitPlaying, AwaitConsuming) rather than polling. Every session gets a
// new epoch so that work started under an old session can be recognised
// and discarded after a restart.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-semaphore/pkg/capture"
)

// Sentinel errors for control operations.
var (
	ErrStartFailed       = errors.New("playback: start failed")
	ErrInvalidTransition = errors.New("playback: invalid transition")
)

// State is the playback state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Stopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StopReason records why a session entered Stopped.
type StopReason int

const (
	StopNone StopReason = iota
	// StopSymbol is a committed Stop symbol.
	StopSymbol
	// SourceExhausted is the end of the frame source.
	SourceExhausted
)

// String implements fmt.Stringer.
func (r StopReason) String() string {
	switch r {
	case StopSymbol:
		return "stop_symbol"
	case SourceExhausted:
		return "source_exhausted"
	default:
		return ""
	}
}

// Opener opens the frame source for a new session.
type Opener func() (capture.Source, error)

// Status is a snapshot of the controller.
type Status struct {
	State  State
	Reason StopReason
	Epoch  uint64
	Source string
	// Halted is true while the consumer is gated.
	Halted bool
}

// Controller is safe for concurrent use.
type Controller struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	reason   StopReason
	epoch    uint64
	source   capture.Source
	halted   bool
	starting bool
	changed  chan struct{}
	handlers []func(Status)
}

// New creates a controller in Idle. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger:  logger.With("component", "playback"),
		changed: make(chan struct{}),
	}
}

// OnChange registers a handler called after every transition. Handlers
// run on the goroutine that caused the transition, outside the lock.
func (c *Controller) OnChange(fn func(Status)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current session epoch.
func (c *Controller) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Start opens a source and begins playing. It is only valid from Idle.
// If the opener fails the controller stays Idle and the returned error
// wraps both ErrStartFailed and the cause.
func (c *Controller) Start(open Opener) error {
	c.mu.Lock()
	if c.state != Idle || c.starting {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
	c.starting = true
	c.mu.Unlock()

	src, err := open()

	c.mu.Lock()
	c.starting = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("failed to open source", "error", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if src == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: opener returned no source", ErrStartFailed)
	}

	c.epoch++
	c.source = src
	c.state = Playing
	c.reason = StopNone
	c.halted = false
	c.logger.Info("playback started", "source", src.Name(), "epoch", c.epoch)
	c.broadcastLocked()
	return nil
}

// TogglePause switches between Playing and Paused and returns the new
// state.
func (c *Controller) TogglePause() (State, error) {
	c.mu.Lock()
	switch c.state {
	case Playing:
		c.state = Paused
	case Paused:
		c.state = Playing
	default:
		st := c.state
		c.mu.Unlock()
		return st, fmt.Errorf("%w: pause from %s", ErrInvalidTransition, st)
	}
	st := c.state
	c.logger.Info("playback toggled", "state", st)
	c.broadcastLocked()
	return st, nil
}

// Stop ends the session identified by epoch. A StopSymbol reason also
// halts the consumer, including after the source was exhausted. Stop
// reports whether the transition was applied; stale epochs and sessions
// that are not running are ignored.
func (c *Controller) Stop(epoch uint64, reason StopReason) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	if c.state == Stopped && reason == StopSymbol && c.reason == SourceExhausted {
		// a stop symbol drained after the source ended
		c.reason = StopSymbol
		c.halted = true
		c.broadcastLocked()
		return true
	}
	if c.state != Playing && c.state != Paused {
		c.mu.Unlock()
		return false
	}

	c.state = Stopped
	c.reason = reason
	if reason == StopSymbol {
		c.halted = true
	}
	src := c.source
	c.source = nil
	c.logger.Info("playback stopped", "reason", reason, "epoch", epoch)
	c.broadcastLocked()

	if src != nil {
		if err := src.Close(); err != nil {
			c.logger.Warn("failed to close source", "error", err)
		}
	}
	return true
}

// Exhausted marks the source of epoch as finished. The consumer keeps
// draining until it reports end-of-stream through Halt.
func (c *Controller) Exhausted(epoch uint64) bool {
	return c.Stop(epoch, SourceExhausted)
}

// Halt gates the consumer for epoch.
func (c *Controller) Halt(epoch uint64) bool {
	c.mu.Lock()
	if epoch != c.epoch || c.halted {
		c.mu.Unlock()
		return false
	}
	c.halted = true
	c.broadcastLocked()
	return true
}

// Restart releases the source, starts a new epoch and returns to Idle.
// It is valid from every state.
func (c *Controller) Restart() Status {
	c.mu.Lock()
	src := c.source
	c.source = nil
	c.epoch++
	c.state = Idle
	c.reason = StopNone
	c.halted = false
	st := c.statusLocked()
	c.logger.Info("playback restarted", "epoch", c.epoch)
	c.broadcastLocked()

	if src != nil {
		if err := src.Close(); err != nil {
			c.logger.Warn("failed to close source", "error", err)
		}
	}
	return st
}

// Close releases the attached source without a transition. It is used on
// shutdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	src := c.source
	c.source = nil
	c.mu.Unlock()

	if src == nil {
		return nil
	}
	return src.Close()
}

// AwaitPlaying blocks until the controller is Playing and returns the
// attached source with the session epoch.
func (c *Controller) AwaitPlaying(ctx context.Context) (capture.Source, uint64, error) {
	for {
		c.mu.Lock()
		if c.state == Playing && c.source != nil {
			src, epoch := c.source, c.epoch
			c.mu.Unlock()
			return src, epoch, nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-ch:
		}
	}
}

// AwaitConsuming blocks while the consumer is halted.
func (c *Controller) AwaitConsuming(ctx context.Context) (uint64, error) {
	for {
		c.mu.Lock()
		if !c.halted {
			epoch := c.epoch
			c.mu.Unlock()
			return epoch, nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ch:
		}
	}
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State:  c.state,
		Reason: c.reason,
		Epoch:  c.epoch,
		Halted: c.halted,
	}
	if c.source != nil {
		st.Source = c.source.Name()
	}
	return st
}

// broadcastLocked wakes every waiter and notifies handlers. It releases
// c.mu before calling handlers.
func (c *Controller) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})

	st := c.statusLocked()
	handlers := append([]func(Status){}, c.handlers...)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(st)
	}
}
