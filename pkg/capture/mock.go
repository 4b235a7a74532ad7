package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSource replays a fixed number of frames. It is safe for concurrent
// use.
type MockSource struct {
	name     string
	total    int
	width    int
	height   int
	interval time.Duration
	jpeg     []byte

	mu     sync.Mutex
	next   uint64
	closed bool
	done   chan struct{}
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithInterval delays every frame by d.
func WithInterval(d time.Duration) MockOption {
	return func(m *MockSource) { m.interval = d }
}

// WithSize sets the reported frame size.
func WithSize(width, height int) MockOption {
	return func(m *MockSource) { m.width, m.height = width, height }
}

// WithJPEG attaches an encoded image to every frame.
func WithJPEG(data []byte) MockOption {
	return func(m *MockSource) { m.jpeg = data }
}

// NewMockSource returns a source of total frames. A negative total never
// ends.
func NewMockSource(total int, opts ...MockOption) *MockSource {
	m := &MockSource{
		name:   fmt.Sprintf("mock(%d)", total),
		total:  total,
		width:  640,
		height: 480,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Next returns the next frame.
func (m *MockSource) Next(ctx context.Context) (Frame, error) {
	if m.interval > 0 {
		t := time.NewTimer(m.interval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-m.done:
			return Frame{}, ErrClosed
		case <-t.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if m.total >= 0 && m.next >= uint64(m.total) {
		return Frame{}, ErrEndOfStream
	}

	m.next++
	return Frame{
		Seq:    m.next,
		At:     time.Now(),
		Width:  m.width,
		Height: m.height,
		JPEG:   m.jpeg,
	}, nil
}

// Close ends the source. It is idempotent.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *MockSource) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Delivered returns the number of frames returned so far.
func (m *MockSource) Delivered() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Name implements Source.
func (m *MockSource) Name() string {
	return m.name
}
