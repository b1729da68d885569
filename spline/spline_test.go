package spline

import "testing"

func TestEndpoints(t *testing.T) {
	for _, s := range []*Spline{Linear(), Smooth()} {
		if got := s.SolveAndEval(0); got != 0 {
			t.Errorf("SolveAndEval(0) = %v, want 0", got)
		}
		if got := s.SolveAndEval(1); got != 1 {
			t.Errorf("SolveAndEval(1) = %v, want 1", got)
		}
	}
}

func TestLinearIsIdentity(t *testing.T) {
	s := Linear()
	for _, x := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1} {
		if got := s.SolveAndEval(x); abs(got-x) > 1e-9 {
			t.Errorf("Linear.SolveAndEval(%v) = %v, want %v", x, got, x)
		}
	}
}

func TestMonotone(t *testing.T) {
	s := Smooth()
	prev := s.SolveAndEval(0)
	for i := 1; i <= 100; i++ {
		x := float64(i) / 100
		y := s.SolveAndEval(x)
		if y < prev-1e-9 {
			t.Fatalf("Smooth spline not monotone at x=%v: y=%v < prev=%v", x, y, prev)
		}
		if y < -1e-9 || y > 1+1e-9 {
			t.Fatalf("Smooth spline overshoots [0,1] at x=%v: y=%v", x, y)
		}
		prev = y
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := Smooth()
	data := s.Serialize()
	got := Unserialize(data)
	if len(got.Points) != len(s.Points) {
		t.Fatalf("round trip point count = %d, want %d", len(got.Points), len(s.Points))
	}
	for i := range s.Points {
		if abs(got.Points[i].X-s.Points[i].X) > 1e-12 || abs(got.Points[i].Y-s.Points[i].Y) > 1e-12 {
			t.Errorf("point %d: got %+v, want %+v", i, got.Points[i], s.Points[i])
		}
	}
}

func TestUnserializeMalformedFallsBackToLinear(t *testing.T) {
	got := Unserialize([]byte{1, 2, 3})
	if got.SolveAndEval(0.5) != 0.5 {
		t.Errorf("Unserialize of malformed data should fall back to Linear")
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
