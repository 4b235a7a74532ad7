// Package opencv provides camera and video file sources backed by OpenCV.
package opencv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"gocv.io/x/gocv"
)

// Source reads frames from a gocv.VideoCapture and encodes them as JPEG.
type Source struct {
	name   string
	live   bool
	cfg    capture.Config
	logger *slog.Logger

	// pacing, file sources only
	fps   float64
	start time.Time

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	img    gocv.Mat
	seq    uint64
	closed bool
}

// OpenCamera opens a camera device by index.
func OpenCamera(device int, cfg capture.Config) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", device)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	s := newSource(fmt.Sprintf("camera:%d", device), vc, cfg, 0)
	s.live = true
	return s, nil
}

// OpenFile opens a video file. With cfg.Realtime set, frames are paced to
// the file's frame rate.
func OpenFile(path string, cfg capture.Config) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: cannot decode", path)
	}

	var fps float64
	if cfg.Realtime {
		fps = vc.Get(gocv.VideoCaptureFPS)
	}
	return newSource("file:"+path, vc, cfg, fps), nil
}

func newSource(name string, vc *gocv.VideoCapture, cfg capture.Config, fps float64) *Source {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = capture.DefaultConfig().Quality
	}
	s := &Source{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "capture", "source", name),
		fps:    fps,
		vc:     vc,
		img:    gocv.NewMat(),
	}
	s.logger.Info("source opened",
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", fps,
	)
	return s
}

// errEmptyFrame is a camera read that produced no image.
var errEmptyFrame = errors.New("read camera frame: empty")

// readFailure maps a failed read to an error. Files are exhausted; cameras
// report a transient failure and keep streaming.
func readFailure(live bool) error {
	if live {
		return errEmptyFrame
	}
	return capture.ErrEndOfStream
}

// Next reads and encodes the next frame. A failed read on a file means the
// file is exhausted.
func (s *Source) Next(ctx context.Context) (capture.Frame, error) {
	if err := s.pace(ctx); err != nil {
		return capture.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.Frame{}, capture.ErrClosed
	}
	if ok := s.vc.Read(&s.img); !ok || s.img.Empty() {
		return capture.Frame{}, readFailure(s.live)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.img, []int{int(gocv.IMWriteJpegQuality), s.cfg.Quality})
	if err != nil {
		return capture.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	s.seq++
	if s.seq == 1 {
		s.start = time.Now()
	}

	return capture.Frame{
		Seq:    s.seq,
		At:     time.Now(),
		Width:  s.img.Cols(),
		Height: s.img.Rows(),
		JPEG:   data,
	}, nil
}

// pace sleeps until the next frame is due at the file's frame rate.
func (s *Source) pace(ctx context.Context) error {
	if s.fps <= 0 {
		return nil
	}

	s.mu.Lock()
	seq, start := s.seq, s.start
	s.mu.Unlock()
	if seq == 0 {
		return nil
	}

	due := start.Add(time.Duration(float64(seq) / s.fps * float64(time.Second)))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases the capture device. It is idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.img.Close()
	s.logger.Info("source closed", "frames", s.seq)
	return s.vc.Close()
}

// Name implements capture.Source.
func (s *Source) Name() string {
	return s.name
}
