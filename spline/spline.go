// Package spline implements the small 2-D curve used to remap an
// animation's linear keyframe position into an eased transition alpha.
// The original program treats this as an opaque, UI-editable "Spline"
// boxed type; its control-point format and solver aren't preserved in
// the retrieved sources, so this is a from-scratch monotone cubic
// design constrained by the same contract the animation package
// depends on: a curve from (0,0) to (1,1), non-decreasing in x, that
// SolveAndEval can invert at an arbitrary x.
package spline

import (
	"encoding/binary"
	"math"
	"sort"
)

// Point is one control point in the unit square.
type Point struct{ X, Y float64 }

// Spline is an ordered list of 2 to 8 control points, monotonically
// increasing in X, with the first fixed at x=0 and the last at x=1.
// It's evaluated with a monotone cubic Hermite interpolant (the
// Fritsch-Carlson method), which guarantees no overshoot between
// points -- important since Y values here are themselves alphas that
// must stay in [0, 1].
type Spline struct {
	Points []Point
}

// MinPoints and MaxPoints bound a Spline's control point count. Fewer
// than two points can't span [0, 1]; the UI that edits these caps
// complexity at eight.
const (
	MinPoints = 2
	MaxPoints = 8
)

// Linear is the identity transition: output alpha equals input alpha.
func Linear() *Spline {
	return &Spline{Points: []Point{{0, 0}, {1, 1}}}
}

// Smooth is a four-point ease-in/ease-out curve, the default transition
// style for new keyframes.
func Smooth() *Spline {
	return &Spline{Points: []Point{
		{0, 0},
		{1.0 / 3, 0},
		{2.0 / 3, 1},
		{1, 1},
	}}
}

// clampEndpoints forces the first point to x=0 and the last to x=1,
// re-sorts by x, and clamps y into [0, 1]. Callers that build a Spline
// by hand (e.g. unserializing) should call this once before use.
func (s *Spline) clampEndpoints() {
	if len(s.Points) == 0 {
		*s = *Linear()
		return
	}
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].X < s.Points[j].X })
	s.Points[0].X = 0
	s.Points[len(s.Points)-1].X = 1
	for i := range s.Points {
		if s.Points[i].Y < 0 {
			s.Points[i].Y = 0
		}
		if s.Points[i].Y > 1 {
			s.Points[i].Y = 1
		}
	}
}

// tangents computes the Fritsch-Carlson monotone tangents for each
// control point, given the secant slopes between consecutive points.
func tangents(pts []Point) []float64 {
	n := len(pts)
	if n < 2 {
		return make([]float64, n)
	}
	secants := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dx := pts[i+1].X - pts[i].X
		if dx == 0 {
			secants[i] = 0
		} else {
			secants[i] = (pts[i+1].Y - pts[i].Y) / dx
		}
	}

	m := make([]float64, n)
	m[0] = secants[0]
	m[n-1] = secants[n-2]
	for i := 1; i < n-1; i++ {
		if secants[i-1]*secants[i] <= 0 {
			m[i] = 0
		} else {
			m[i] = (secants[i-1] + secants[i]) / 2
		}
	}

	// Fritsch-Carlson alpha/beta limiting, keeping the interpolant
	// from overshooting between any two points.
	for i := 0; i < n-1; i++ {
		if secants[i] == 0 {
			m[i] = 0
			m[i+1] = 0
			continue
		}
		a := m[i] / secants[i]
		b := m[i+1] / secants[i]
		h := a*a + b*b
		if h > 9 {
			t := 3 / math.Sqrt(h)
			m[i] = t * a * secants[i]
			m[i+1] = t * b * secants[i]
		}
	}
	return m
}

// Eval returns the spline's y value at x, which is clamped to [0, 1].
// Points outside the spline's support (before the first or after the
// last control point, which cannot happen once clampEndpoints has run)
// are clamped to the nearest endpoint's y.
func (s *Spline) Eval(x float64) float64 {
	pts := s.Points
	if len(pts) == 0 {
		return x
	}
	if x <= pts[0].X {
		return pts[0].Y
	}
	if x >= pts[len(pts)-1].X {
		return pts[len(pts)-1].Y
	}

	m := tangents(pts)
	for i := 0; i < len(pts)-1; i++ {
		if x < pts[i].X || x > pts[i+1].X {
			continue
		}
		h := pts[i+1].X - pts[i].X
		t := (x - pts[i].X) / h

		h00 := 2*t*t*t - 3*t*t + 1
		h10 := t*t*t - 2*t*t + t
		h01 := -2*t*t*t + 3*t*t
		h11 := t*t*t - t*t

		return h00*pts[i].Y + h10*h*m[i] + h01*pts[i+1].Y + h11*h*m[i+1]
	}
	return pts[len(pts)-1].Y
}

// SolveAndEval treats x as a linear animation position and returns the
// spline's eased alpha at that position. It's the same as Eval, since
// this spline's domain and the animation position share the same
// [0, 1] range; the name matches the operation's role in package
// animation (invariant: SolveAndEval(0) == 0, SolveAndEval(1) == 1).
func (s *Spline) SolveAndEval(x float64) float64 {
	return s.Eval(x)
}

// Serialize encodes the spline's control points as a flat
// big-endian float64 pair list, x0,y0,x1,y1,...
func (s *Spline) Serialize() []byte {
	buf := make([]byte, 0, len(s.Points)*16)
	for _, p := range s.Points {
		buf = appendFloat64(buf, p.X)
		buf = appendFloat64(buf, p.Y)
	}
	return buf
}

func appendFloat64(buf []byte, f float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...)
}

// Unserialize decodes the format Serialize produces. It returns Linear
// if data is malformed or empty, so a missing or corrupt spline chunk
// degrades to the identity transition rather than failing the load.
func Unserialize(data []byte) *Spline {
	if len(data) < 32 || len(data)%16 != 0 {
		return Linear()
	}
	n := len(data) / 16
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		x := math.Float64frombits(binary.BigEndian.Uint64(data[i*16 : i*16+8]))
		y := math.Float64frombits(binary.BigEndian.Uint64(data[i*16+8 : i*16+16]))
		pts[i] = Point{X: x, Y: y}
	}
	s := &Spline{Points: pts}
	s.clampEndpoints()
	return s
}
