package semaphore

import (
	"math"
	"strconv"
)

// Direction is a quantized arm direction in degrees.
type Direction int

// Canonical directions. Undefined is returned for unknown angles.
const (
	Deg0      Direction = 0
	Deg45     Direction = 45
	Deg90     Direction = 90
	Deg135    Direction = 135
	Deg180    Direction = 180
	DegNeg45  Direction = -45
	DegNeg90  Direction = -90
	DegNeg135 Direction = -135
	Undefined Direction = math.MaxInt32
)

// AngleGap is the half-width of every quantization window.
const AngleGap = 22.5

// Directions lists the canonical directions in window order.
func Directions() []Direction {
	return []Direction{Deg0, Deg45, Deg90, Deg135, Deg180, DegNeg45, DegNeg90, DegNeg135}
}

// Canonical reports whether d is one of the canonical directions.
func (d Direction) Canonical() bool {
	switch d {
	case Deg0, Deg45, Deg90, Deg135, Deg180, DegNeg45, DegNeg90, DegNeg135:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Undefined {
		return "undefined"
	}
	return strconv.Itoa(int(d))
}

// window is the acceptance range of one direction: (lo, hi], or [lo, hi]
// when closedLow is set.
type window struct {
	dir       Direction
	lo, hi    float64
	closedLow bool
}

// windows tile (-180, 180] exactly. The -180 bucket is reported as 180.
var windows = []window{
	{dir: Deg0, lo: 0 - AngleGap, hi: 0 + AngleGap},
	{dir: DegNeg45, lo: -45 - AngleGap, hi: -45 + AngleGap},
	{dir: DegNeg90, lo: -90 - AngleGap, hi: -90 + AngleGap},
	{dir: DegNeg135, lo: -135 - AngleGap, hi: -135 + AngleGap},
	{dir: Deg180, lo: -180, hi: -180 + AngleGap, closedLow: true},
	{dir: Deg45, lo: 45 - AngleGap, hi: 45 + AngleGap},
	{dir: Deg90, lo: 90 - AngleGap, hi: 90 + AngleGap},
	{dir: Deg135, lo: 135 - AngleGap, hi: 135 + AngleGap},
	{dir: Deg180, lo: 180 - AngleGap, hi: 180},
}

func (w window) contains(a float64) bool {
	if a > w.hi {
		return false
	}
	if w.closedLow {
		return a >= w.lo
	}
	return a > w.lo
}

// Quantize maps an angle to its canonical direction. Unknown, NaN and
// infinite angles yield Undefined.
func Quantize(a Angle) Direction {
	if !a.Valid || math.IsNaN(a.Degrees) || math.IsInf(a.Degrees, 0) {
		return Undefined
	}

	deg := wrap(a.Degrees)
	for _, w := range windows {
		if w.contains(deg) {
			return w.dir
		}
	}
	// unreachable: the windows tile [-180, 180]
	return Undefined
}

// wrap brings a finite angle into [-180, 180].
func wrap(deg float64) float64 {
	if deg >= -180 && deg <= 180 {
		return deg
	}
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg < -180 {
		deg += 360
	}
	return deg
}
