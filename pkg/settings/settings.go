// Package settings holds the user-tunable decoder settings: the active
// alphabet and the dwell duration. Values are read by the pipeline on
// every sample and may be changed at any time from the dashboard.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

// Sentinel errors for invalid settings.
var (
	ErrUnknownLanguage = errors.New("settings: unknown language")
	ErrInvalidDwell    = errors.New("settings: dwell duration must be positive")
)

// Settings are the runtime-tunable decoder values.
type Settings struct {
	Language semaphore.Language `json:"language" yaml:"language"`
	Dwell    time.Duration      `json:"-" yaml:"dwell"`
}

// DwellSeconds returns the dwell duration in seconds.
func (s Settings) DwellSeconds() float64 {
	return s.Dwell.Seconds()
}

// Default returns English with a two second dwell.
func Default() Settings {
	return Settings{
		Language: semaphore.English,
		Dwell:    2 * time.Second,
	}
}

// Validate checks the settings against the registered alphabets.
func (s Settings) Validate() error {
	if _, ok := semaphore.TableFor(s.Language); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, s.Language)
	}
	if s.Dwell <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDwell, s.Dwell)
	}
	return nil
}

// DwellPresets are the dwell choices offered by the dashboard.
var DwellPresets = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	1500 * time.Millisecond,
	2 * time.Second,
}

// Manager holds the current settings and notifies subscribers on change.
type Manager struct {
	mu       sync.RWMutex
	current  Settings
	handlers []func(Settings)
}

// NewManager creates a manager. Invalid initial settings fall back to
// Default.
func NewManager(initial Settings) *Manager {
	if initial.Validate() != nil {
		initial = Default()
	}
	return &Manager{current: initial}
}

// Get returns the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Language returns the active language.
func (m *Manager) Language() semaphore.Language {
	return m.Get().Language
}

// Dwell returns the active dwell duration.
func (m *Manager) Dwell() time.Duration {
	return m.Get().Dwell
}

// OnChange registers a handler called after every successful Set.
// Handlers run synchronously on the caller's goroutine.
func (m *Manager) OnChange(fn func(Settings)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// Set validates and applies new settings.
func (m *Manager) Set(s Settings) error {
	return m.apply(func(cur *Settings) { *cur = s })
}

// Update applies a partial update. Recognized keys are "language" (string)
// and "dwell" (seconds as a number or numeric string, or a Go duration
// string such as "1.5s").
func (m *Manager) Update(params map[string]any) error {
	var (
		lang     semaphore.Language
		hasLang  bool
		dwell    time.Duration
		hasDwell bool
	)
	for key, value := range params {
		switch key {
		case "language":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("%w: %v", ErrUnknownLanguage, value)
			}
			lang, hasLang = semaphore.Language(v), true
		case "dwell", "dwell_seconds":
			d, err := parseDwell(value)
			if err != nil {
				return err
			}
			dwell, hasDwell = d, true
		}
	}

	return m.apply(func(cur *Settings) {
		if hasLang {
			cur.Language = lang
		}
		if hasDwell {
			cur.Dwell = dwell
		}
	})
}

// apply edits a copy of the current settings under the lock and stores it
// if it validates. Handlers run after the lock is released.
func (m *Manager) apply(edit func(*Settings)) error {
	m.mu.Lock()
	next := m.current
	edit(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.current = next
	handlers := append([]func(Settings){}, m.handlers...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(next)
	}
	return nil
}

func parseDwell(value any) (time.Duration, error) {
	switch v := value.(type) {
	case float64:
		return secondsToDuration(v), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case time.Duration:
		return v, nil
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return secondsToDuration(f), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDwell, v)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: unsupported value %v", ErrInvalidDwell, value)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
