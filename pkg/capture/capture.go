// Package capture defines the frame source interface used by the decoder
// and a scripted source for tests and demos.
package capture

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by sources.
var (
	// ErrEndOfStream is returned by Next when the source has no more frames.
	ErrEndOfStream = errors.New("capture: end of stream")
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("capture: source closed")
)

// Frame is one captured image.
type Frame struct {
	Seq    uint64
	At     time.Time
	Width  int
	Height int
	// JPEG is the encoded image. It may be nil for sources that do not
	// produce images (synthetic pose input).
	JPEG []byte
}

// Source produces frames. Next blocks until a frame is available, the
// source ends (ErrEndOfStream) or ctx is done. Close may be called
// concurrently with Next and must make it return.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
	Name() string
}

// Config holds capture parameters shared by the concrete sources.
type Config struct {
	// Width and Height are the requested capture size. Zero keeps the
	// device default.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// Realtime paces file playback to the file's frame rate.
	Realtime bool `yaml:"realtime" json:"realtime"`

	// Quality is the JPEG quality of preview frames (1-100).
	Quality int `yaml:"quality" json:"quality"`
}

// DefaultConfig requests a portrait 900x1600 capture.
func DefaultConfig() Config {
	return Config{
		Width:    900,
		Height:   1600,
		Realtime: true,
		Quality:  80,
	}
}
