// Package pose turns body landmarks into semaphore arm angles.
//
// An Estimator finds landmarks in a frame; the Extractor picks the elbow
// and wrist of each arm and measures the forearm direction in image
// coordinates (x to the right, y downward).
package pose

import (
	"context"
	"math"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

// Landmark is one detected body keypoint. X and Y are normalized to the
// frame size; points outside [0, 1] are off-frame.
type Landmark struct {
	ID         int
	X          float64
	Y          float64
	Confidence float64
}

// Estimator finds body landmarks in a frame. An empty result means no
// pose was detected.
type Estimator interface {
	Estimate(ctx context.Context, frame capture.Frame) ([]Landmark, error)
	Close() error
}

// JointMap names the landmark ids of the joints the extractor needs.
type JointMap struct {
	RightElbow int `yaml:"right_elbow" json:"right_elbow"`
	RightWrist int `yaml:"right_wrist" json:"right_wrist"`
	LeftElbow  int `yaml:"left_elbow" json:"left_elbow"`
	LeftWrist  int `yaml:"left_wrist" json:"left_wrist"`
}

// Joint maps for common landmark models.
var (
	// MediaPipeJoints is the 33-point BlazePose topology.
	MediaPipeJoints = JointMap{RightElbow: 14, RightWrist: 16, LeftElbow: 13, LeftWrist: 15}
	// COCOJoints is the 18-point OpenPose COCO topology.
	COCOJoints = JointMap{RightElbow: 3, RightWrist: 4, LeftElbow: 6, LeftWrist: 7}
)

// Config holds extractor parameters.
type Config struct {
	Joints JointMap `yaml:"joints" json:"joints"`
	// Visibility is the confidence a landmark must exceed to be used.
	Visibility float64 `yaml:"visibility" json:"visibility"`
}

// DefaultConfig uses the MediaPipe joint map and a 0.5 visibility
// threshold.
func DefaultConfig() Config {
	return Config{
		Joints:     MediaPipeJoints,
		Visibility: 0.5,
	}
}

// Extractor computes arm angles from landmarks.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.Visibility < 0 || cfg.Visibility >= 1 {
		cfg.Visibility = DefaultConfig().Visibility
	}
	return &Extractor{cfg: cfg}
}

// Joints returns the extractor's joint map.
func (e *Extractor) Joints() JointMap {
	return e.cfg.Joints
}

// Extract measures both arms. Each arm is Unknown when its elbow or wrist
// is missing, not confident enough or off-frame. Width and height are the
// frame size in pixels; angles are measured in pixel space.
func (e *Extractor) Extract(landmarks []Landmark, width, height int) semaphore.Sample {
	byID := make(map[int]Landmark, len(landmarks))
	for _, lm := range landmarks {
		byID[lm.ID] = lm
	}

	j := e.cfg.Joints
	return semaphore.Sample{
		Right: e.armAngle(byID, j.RightElbow, j.RightWrist, width, height),
		Left:  e.armAngle(byID, j.LeftElbow, j.LeftWrist, width, height),
	}
}

func (e *Extractor) armAngle(byID map[int]Landmark, elbowID, wristID, width, height int) semaphore.Angle {
	elbow, ok := byID[elbowID]
	if !ok || !e.visible(elbow) {
		return semaphore.Unknown
	}
	wrist, ok := byID[wristID]
	if !ok || !e.visible(wrist) {
		return semaphore.Unknown
	}

	x1, y1 := pixel(elbow.X, width), pixel(elbow.Y, height)
	x2, y2 := pixel(wrist.X, width), pixel(wrist.Y, height)

	deg := math.Atan2(y2-y1, x2-x1) * 180 / math.Pi
	return semaphore.Known(math.Round(deg*10) / 10)
}

func (e *Extractor) visible(lm Landmark) bool {
	return lm.X >= 0 && lm.X <= 1 &&
		lm.Y >= 0 && lm.Y <= 1 &&
		lm.Confidence > e.cfg.Visibility
}

// pixel converts a normalized coordinate to a whole pixel. A non-positive
// size keeps the normalized value.
func pixel(v float64, size int) float64 {
	if size <= 0 {
		return v
	}
	return float64(int(v * float64(size)))
}
