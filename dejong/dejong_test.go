package dejong

import (
	"context"
	"testing"
	"time"

	"github.com/davidt/fyre/params"
)

func TestCalculateAccumulatesIterations(t *testing.T) {
	m := New(1)
	if err := m.Resize(64, 64); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	m.Calculate(10000)
	if m.Iterations() != 10000 {
		t.Errorf("Iterations() = %v, want 10000", m.Iterations())
	}

	m.Calculate(5000)
	if m.Iterations() != 15000 {
		t.Errorf("Iterations() = %v, want 15000", m.Iterations())
	}
}

func TestClearResetsIterations(t *testing.T) {
	m := New(2)
	if err := m.Resize(64, 64); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	m.Calculate(1000)
	m.Clear()
	m.Calculate(1)
	if m.Iterations() != 1 {
		t.Errorf("Iterations() after Clear+Calculate(1) = %v, want 1", m.Iterations())
	}
}

func TestCalculateProducesNonEmptyHistogram(t *testing.T) {
	m := New(3)
	if err := m.Resize(64, 64); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	m.Calculate(20000)

	img := m.Image()
	b := img.Bounds()
	if b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("Image() bounds = %v, want 64x64", b)
	}
	if m.PeakDensity() == 0 {
		t.Error("histogram is empty after Calculate(20000)")
	}
}

func TestCalculateTileableStaysInBounds(t *testing.T) {
	m := New(4)
	if err := m.Resize(32, 32); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := m.Params.SetValue(FieldTileable, params.Bool(true)); err != nil {
		t.Fatalf("SetValue(tileable): %v", err)
	}
	m.Calculate(20000)
	// No panic/out-of-range plot means wrap() correctly folded coordinates
	// back into [0, width) x [0, height).
}

func TestCalculateMotionAdvancesIterations(t *testing.T) {
	m := New(5)
	if err := m.Resize(32, 32); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	calls := 0
	m.CalculateMotion(5000, false, func(alpha float64) {
		calls++
		if alpha < 0 || alpha > 1 {
			t.Errorf("interp alpha = %v, want in [0,1]", alpha)
		}
	})
	if m.Iterations() != 5000 {
		t.Errorf("Iterations() = %v, want 5000", m.Iterations())
	}
	if calls == 0 {
		t.Error("interp was never called")
	}
}

func TestCalculateTimedRespectsContext(t *testing.T) {
	m := New(6)
	if err := m.Resize(32, 32); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got float64
	m.Run(ctx, time.Millisecond, func(quality float64) {
		got = quality
	})

	if m.Iterations() == 0 {
		t.Error("Run did not perform any iterations before context expired")
	}
	_ = got
}
