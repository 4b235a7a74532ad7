// Package semaphore turns pairs of arm angles into flag-semaphore symbols.
//
// An arm angle is quantized into one of the canonical directions
// (0, ±45, ±90, ±135, 180 degrees) and the (right, left) direction pair is
// looked up in a per-language letter table:
//
//	sym := semaphore.Classify(semaphore.Known(135), semaphore.Known(90), semaphore.English)
//	// sym == semaphore.Letter("A")
package semaphore

import (
	"fmt"
	"time"
)

// Angle is an arm angle in degrees. The zero value is Unknown.
type Angle struct {
	Degrees float64
	Valid   bool
}

// Unknown is an angle that could not be measured.
var Unknown = Angle{}

// Known returns a valid angle of d degrees.
func Known(d float64) Angle {
	return Angle{Degrees: d, Valid: true}
}

// String implements fmt.Stringer.
func (a Angle) String() string {
	if !a.Valid {
		return "unknown"
	}
	return fmt.Sprintf("%.1f°", a.Degrees)
}

// Sample is one pair of arm angles measured from a single frame.
type Sample struct {
	Right Angle
	Left  Angle

	// Seq is the producer's frame sequence number.
	Seq uint64

	// Epoch identifies the playback session that produced the sample.
	Epoch uint64

	// At is the capture time of the frame.
	At time.Time
}

// Complete reports whether both arms were measured.
func (s Sample) Complete() bool {
	return s.Right.Valid && s.Left.Valid
}
