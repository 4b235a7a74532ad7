package pose

import (
	"context"
	"math"
	"sync"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/semaphore"
)

// Arms is a pair of scripted arm angles. An invalid angle omits that arm's
// wrist.
type Arms struct {
	Right semaphore.Angle
	Left  semaphore.Angle
}

// Script returns the arms to show on frame seq. ok=false means no person
// is visible.
type Script func(seq uint64) (arms Arms, ok bool)

// Hold shows each pose for framesEach frames and then nothing.
func Hold(poses []Arms, framesEach int) Script {
	return Perform(poses, framesEach, 0)
}

// Perform shows each pose for hold frames followed by rest frames with
// nobody in view, then nothing. The rest lets a repeated letter commit
// twice.
func Perform(poses []Arms, hold, rest int) Script {
	if hold <= 0 {
		hold = 1
	}
	if rest < 0 {
		rest = 0
	}
	period := uint64(hold + rest)
	return func(seq uint64) (Arms, bool) {
		if seq == 0 {
			return Arms{}, false
		}
		i := (seq - 1) / period
		if i >= uint64(len(poses)) || (seq-1)%period >= uint64(hold) {
			return Arms{}, false
		}
		return poses[i], true
	}
}

// FromPairs converts direction pairs to arm poses at the direction
// centers.
func FromPairs(pairs []semaphore.Pair) []Arms {
	out := make([]Arms, len(pairs))
	for i, p := range pairs {
		out[i] = Arms{
			Right: semaphore.Known(p.Right.Degrees()),
			Left:  semaphore.Known(p.Left.Degrees()),
		}
	}
	return out
}

// SyntheticEstimator produces landmarks that reproduce scripted arm
// angles. It needs no model and is used by tests and demo mode.
type SyntheticEstimator struct {
	joints JointMap

	mu     sync.RWMutex
	script Script
}

// NewSyntheticEstimator creates an estimator emitting landmarks for joints.
func NewSyntheticEstimator(joints JointMap, script Script) *SyntheticEstimator {
	return &SyntheticEstimator{joints: joints, script: script}
}

// SetScript replaces the script, for example when a new session starts.
func (s *SyntheticEstimator) SetScript(script Script) {
	s.mu.Lock()
	s.script = script
	s.mu.Unlock()
}

// forearm is the scripted forearm length as a fraction of the shorter
// frame side.
const forearm = 0.2

// Estimate implements Estimator.
func (s *SyntheticEstimator) Estimate(ctx context.Context, frame capture.Frame) ([]Landmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	script := s.script
	s.mu.RUnlock()
	if script == nil {
		return nil, nil
	}
	arms, ok := script(frame.Seq)
	if !ok {
		return nil, nil
	}

	w, h := float64(frame.Width), float64(frame.Height)
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	r := forearm * math.Min(w, h)

	var out []Landmark
	out = appendArm(out, s.joints.RightElbow, s.joints.RightWrist, 0.35, arms.Right, r, w, h)
	out = appendArm(out, s.joints.LeftElbow, s.joints.LeftWrist, 0.65, arms.Left, r, w, h)
	return out, nil
}

func appendArm(out []Landmark, elbowID, wristID int, x float64, angle semaphore.Angle, r, w, h float64) []Landmark {
	ex, ey := x*w, 0.5*h
	out = append(out, Landmark{ID: elbowID, X: ex / w, Y: ey / h, Confidence: 0.99})
	if !angle.Valid {
		return out
	}

	rad := angle.Degrees * math.Pi / 180
	wx, wy := ex+r*math.Cos(rad), ey+r*math.Sin(rad)
	return append(out, Landmark{ID: wristID, X: wx / w, Y: wy / h, Confidence: 0.99})
}

// Close implements Estimator.
func (s *SyntheticEstimator) Close() error {
	return nil
}
