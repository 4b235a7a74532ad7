// Package stream provides the bounded angle-sample queue that connects the
// producer (frame capture and pose estimation) to the consumer (symbol
// classification and debouncing).
//
// Stream is the only synchronization point between the two tasks:
//
//   - Push never blocks. At capacity the oldest sample is dropped, so the
//     stream always holds the most recent samples (drop-oldest).
//   - Pop blocks while the stream is empty until a sample arrives, the
//     stream is closed, or the context is cancelled.
//
// The implementation is a mutex-guarded slice plus a 1-buffered wake channel.
// It is safe for one producer and one consumer (and for more, although the
// pipeline never does that).
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

// DefaultCapacity matches the original decoder's angle buffer.
const DefaultCapacity = 10

// ErrEndOfStream is returned by Pop once the stream is closed and drained.
var ErrEndOfStream = errors.New("stream: end of stream")

// Stats contains stream counters.
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Popped  uint64 `json:"popped"`
	Dropped uint64 `json:"dropped"`
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Closed  bool   `json:"closed"`
}

// Stream is a bounded FIFO of angle samples with drop-oldest overflow.
type Stream struct {
	capacity int

	mu     sync.Mutex
	buf    []semaphore.Sample
	closed bool

	// wake holds at most one pending notification for a blocked Pop.
	wake chan struct{}

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a stream holding at most capacity samples.
// A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		capacity: capacity,
		buf:      make([]semaphore.Sample, 0, capacity+1),
		wake:     make(chan struct{}, 1),
	}
}

// Cap returns the stream capacity.
func (s *Stream) Cap() int {
	return s.capacity
}

// Push appends a sample, evicting the oldest one if the stream is full.
// Pushing to a closed stream drops the sample.
func (s *Stream) Push(sample semaphore.Sample) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}

	s.buf = append(s.buf, sample)
	if len(s.buf) > s.capacity {
		// shift instead of reslicing so the backing array does not creep
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped.Add(1)
	}
	s.mu.Unlock()

	s.pushed.Add(1)
	s.notify()
}

// Pop removes and returns the oldest sample, blocking while the stream is
// empty. It returns ErrEndOfStream when the stream is closed and drained,
// or ctx.Err() if ctx is cancelled first.
func (s *Stream) Pop(ctx context.Context) (semaphore.Sample, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			sample := s.buf[0]
			copy(s.buf, s.buf[1:])
			s.buf = s.buf[:len(s.buf)-1]
			s.mu.Unlock()
			s.popped.Add(1)
			return sample, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return semaphore.Sample{}, ErrEndOfStream
		}

		select {
		case <-ctx.Done():
			return semaphore.Sample{}, ctx.Err()
		case <-s.wake:
		}
	}
}

// TryPop removes the oldest sample without blocking.
func (s *Stream) TryPop() (semaphore.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return semaphore.Sample{}, false
	}
	sample := s.buf[0]
	copy(s.buf, s.buf[1:])
	s.buf = s.buf[:len(s.buf)-1]
	s.popped.Add(1)
	return sample, true
}

// Close marks the end of the stream. Samples already queued can still be
// popped; after that Pop returns ErrEndOfStream.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Reset discards all queued samples and reopens a closed stream.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.closed = false
	s.mu.Unlock()
}

// Len returns the number of queued samples.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Closed reports whether Close has been called since the last Reset.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot returns a copy of the queued samples, oldest first.
func (s *Stream) Snapshot() []semaphore.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]semaphore.Sample, len(s.buf))
	copy(out, s.buf)
	return out
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	n, closed := len(s.buf), s.closed
	s.mu.Unlock()

	return Stats{
		Pushed:  s.pushed.Load(),
		Popped:  s.popped.Load(),
		Dropped: s.dropped.Load(),
		Len:     n,
		Cap:     s.capacity,
		Closed:  closed,
	}
}

func (s *Stream) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}
