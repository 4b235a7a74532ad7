package settings

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

func TestDefault(t *testing.T) {
	s := Default()
	if s.Language != semaphore.English || s.Dwell != 2*time.Second {
		t.Errorf("Default() = %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Default() invalid: %v", err)
	}
}

func TestNewManager_InvalidFallsBack(t *testing.T) {
	m := NewManager(Settings{Language: "xx", Dwell: time.Second})
	if m.Get() != Default() {
		t.Errorf("Get() = %+v, want default", m.Get())
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		in      Settings
		wantErr error
	}{
		{"ukrainian", Settings{Language: semaphore.Ukrainian, Dwell: time.Second}, nil},
		{"unknown language", Settings{Language: "fr", Dwell: time.Second}, ErrUnknownLanguage},
		{"zero dwell", Settings{Language: semaphore.English}, ErrInvalidDwell},
		{"negative dwell", Settings{Language: semaphore.English, Dwell: -time.Second}, ErrInvalidDwell},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(Default())
			err := m.Set(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Set() error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && m.Get() != tc.in {
				t.Errorf("Get() = %+v, want %+v", m.Get(), tc.in)
			}
			if tc.wantErr != nil && m.Get() != Default() {
				t.Error("failed Set should not change settings")
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    Settings
		wantErr bool
	}{
		{
			name:   "language only",
			params: map[string]any{"language": "uk"},
			want:   Settings{Language: semaphore.Ukrainian, Dwell: 2 * time.Second},
		},
		{
			name:   "dwell seconds float",
			params: map[string]any{"dwell": 1.5},
			want:   Settings{Language: semaphore.English, Dwell: 1500 * time.Millisecond},
		},
		{
			name:   "dwell numeric string",
			params: map[string]any{"dwell_seconds": "0.5"},
			want:   Settings{Language: semaphore.English, Dwell: 500 * time.Millisecond},
		},
		{
			name:   "dwell duration string",
			params: map[string]any{"dwell": "750ms"},
			want:   Settings{Language: semaphore.English, Dwell: 750 * time.Millisecond},
		},
		{
			name:    "bad language type",
			params:  map[string]any{"language": 3},
			wantErr: true,
		},
		{
			name:    "bad dwell",
			params:  map[string]any{"dwell": "soon"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(Default())
			err := m.Update(tc.params)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Update() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && m.Get() != tc.want {
				t.Errorf("Get() = %+v, want %+v", m.Get(), tc.want)
			}
		})
	}
}

func TestOnChange(t *testing.T) {
	m := NewManager(Default())

	var got []Settings
	m.OnChange(func(s Settings) { got = append(got, s) })

	if err := m.Update(map[string]any{"dwell": 1.0}); err != nil {
		t.Fatal(err)
	}
	_ = m.Update(map[string]any{"language": "xx"})

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].Dwell != time.Second {
		t.Errorf("handler dwell = %v, want 1s", got[0].Dwell)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(Default())
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = m.Set(Settings{Language: semaphore.Ukrainian, Dwell: time.Second})
				_ = m.Set(Settings{Language: semaphore.English, Dwell: 2 * time.Second})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := m.Get().Validate(); err != nil {
					t.Errorf("observed invalid settings: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestUpdate_ConcurrentFieldsBothApply(t *testing.T) {
	for i := 0; i < 100; i++ {
		m := NewManager(Default())
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			if err := m.Update(map[string]any{"language": "uk"}); err != nil {
				t.Errorf("Update(language) error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			if err := m.Update(map[string]any{"dwell": 0.5}); err != nil {
				t.Errorf("Update(dwell) error: %v", err)
			}
		}()
		close(start)
		wg.Wait()

		got := m.Get()
		if got.Language != semaphore.Ukrainian || got.Dwell != 500*time.Millisecond {
			t.Fatalf("iteration %d: settings = %+v, want uk with 500ms", i, got)
		}
	}
}

func TestDwellPresets(t *testing.T) {
	if len(DwellPresets) != 4 || DwellPresets[0] != 500*time.Millisecond || DwellPresets[3] != 2*time.Second {
		t.Errorf("DwellPresets = %v", DwellPresets)
	}
}
