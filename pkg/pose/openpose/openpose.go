// Package openpose estimates body landmarks with an OpenPose network run
// through OpenCV's DNN module.
//
// Landmark ids follow the COCO body topology, so the extractor should use
// pose.COCOJoints with this estimator.
package openpose

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/debug"
	"github.com/teslashibe/go-semaphore/pkg/pose"
	"gocv.io/x/gocv"
)

// Config holds estimator configuration.
type Config struct {
	ModelPath  string `yaml:"model_path" json:"model_path"`
	ConfigPath string `yaml:"config_path" json:"config_path"`
	InputSize  int    `yaml:"input_size" json:"input_size"`
	// Parts is the number of body parts in the heatmap output (18 for COCO).
	Parts int `yaml:"parts" json:"parts"`
}

// DefaultConfig returns production defaults for the COCO body model.
func DefaultConfig() Config {
	return Config{
		ModelPath:  "models/pose_iter_440000.caffemodel",
		ConfigPath: "models/pose_deploy_linevec.prototxt",
		InputSize:  368,
		Parts:      18,
	}
}

// Estimator implements pose.Estimator.
type Estimator struct {
	net       gocv.Net
	cfg       Config
	inputSize image.Point
	mu        sync.Mutex
}

// New loads the network.
func New(cfg Config) (*Estimator, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultConfig().InputSize
	}
	if cfg.Parts <= 0 {
		cfg.Parts = DefaultConfig().Parts
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load pose model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Estimator{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputSize, cfg.InputSize),
	}, nil
}

// Estimate finds the strongest response for every body part. Coordinates
// are normalized to the heatmap grid, which covers the whole frame.
func (e *Estimator) Estimate(ctx context.Context, frame capture.Frame) ([]pose.Landmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame.JPEG) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	// output shape: [1, parts+background+PAFs, H, W]
	dims := output.Size()
	if len(dims) != 4 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	landmarks := parseHeatmaps(data, dims[1], dims[2], dims[3], e.cfg.Parts)
	debug.TraceLog("openpose landmarks", "frame", frame.Seq, "count", len(landmarks))
	return landmarks, nil
}

// parseHeatmaps takes the argmax of each part's heatmap. Parts with no
// positive response are omitted.
func parseHeatmaps(data []float32, channels, h, w, parts int) []pose.Landmark {
	if parts > channels {
		parts = channels
	}
	plane := h * w
	if plane == 0 || len(data) < parts*plane {
		return nil
	}

	out := make([]pose.Landmark, 0, parts)
	for p := 0; p < parts; p++ {
		heat := data[p*plane : (p+1)*plane]

		best, bestIdx := float32(0), -1
		for i, v := range heat {
			if v > best {
				best, bestIdx = v, i
			}
		}
		if bestIdx < 0 {
			continue
		}

		row, col := bestIdx/w, bestIdx%w
		out = append(out, pose.Landmark{
			ID:         p,
			X:          (float64(col) + 0.5) / float64(w),
			Y:          (float64(row) + 0.5) / float64(h),
			Confidence: float64(best),
		})
	}
	return out
}

// Close releases the network.
func (e *Estimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}
