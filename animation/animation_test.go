package animation

import (
	"bytes"
	"testing"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/params"
)

func newTestMap(seed int64) *dejong.Map {
	m := dejong.New(seed)
	if err := m.Resize(32, 32); err != nil {
		panic(err)
	}
	return m
}

func TestKeyframeAppendAndGetLength(t *testing.T) {
	a := New()
	m := newTestMap(1)

	a.KeyframeAppend(m.Snapshot(), nil)
	a.KeyframeAppend(m.Snapshot(), nil)

	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}
	if got, want := a.GetLength(), 2*DefaultDuration; got != want {
		t.Errorf("GetLength() = %v, want %v", got, want)
	}
}

func TestIterSeekRelativeNegativeRestartsFromOrigin(t *testing.T) {
	a := New()
	m := newTestMap(2)
	a.KeyframeAppend(m.Snapshot(), nil)
	a.KeyframeAppend(m.Snapshot(), nil)

	it := a.IterSeek(7) // into the second keyframe
	a.IterSeekRelative(it, -100)

	if !it.Valid() {
		t.Fatal("iterator should remain valid after restart")
	}
	if it.index != 0 || it.timeAfterKeyframe != 0 {
		t.Errorf("after large negative seek, index=%d timeAfterKeyframe=%v, want 0, 0", it.index, it.timeAfterKeyframe)
	}
}

func TestIterLoadInterpolatesBetweenKeyframes(t *testing.T) {
	a := New()

	m1 := newTestMap(3)
	if err := m1.Params.SetValue(dejong.FieldA, params.Float64(1)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	a.KeyframeAppend(m1.Snapshot(), nil)

	m2 := newTestMap(3)
	if err := m2.Params.SetValue(dejong.FieldA, params.Float64(3)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	a.KeyframeAppend(m2.Snapshot(), nil)

	it := a.IterFirst()
	// Halfway through the first (and only) transition, using the
	// Linear spline so alpha isn't remapped.
	a.Keyframe(0).Spline = nil
	a.IterSeekRelative(it, DefaultDuration/2)

	dst := newTestMap(4)
	if err := a.IterLoad(it, dst); err != nil {
		t.Fatalf("IterLoad: %v", err)
	}

	got := dst.Params.MustGet(dejong.FieldA).F
	if got < 1.9 || got > 2.1 {
		t.Errorf("interpolated a = %v, want ~2.0", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	a := New()
	m := newTestMap(5)
	a.KeyframeAppend(m.Snapshot(), nil)
	a.Keyframe(0).Duration = 3.5

	var buf bytes.Buffer
	if err := a.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b := New()
	if err := b.Load(&buf, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if b.Len() != 1 {
		t.Fatalf("Len() after round trip = %d, want 1", b.Len())
	}
	if b.Keyframe(0).Duration != 3.5 {
		t.Errorf("Duration after round trip = %v, want 3.5", b.Keyframe(0).Duration)
	}
	if b.Keyframe(0).Params != a.Keyframe(0).Params {
		t.Errorf("Params after round trip = %q, want %q", b.Keyframe(0).Params, a.Keyframe(0).Params)
	}
}

// TestIterReadFrameReproducesTenFpsScenario builds a 2-keyframe
// animation (a=2,b=-1 to a=-3,b=4, transition duration 2s, linear
// spline) and walks it at 10fps the way cmd/fyre-node's animate
// subcommand does, checking the frame 0, 10 and 20 values and the
// true/false boundary once the animation is exhausted.
func TestIterReadFrameReproducesTenFpsScenario(t *testing.T) {
	a := New()

	m1 := newTestMap(10)
	if err := m1.Params.SetValue(dejong.FieldA, params.Float64(2)); err != nil {
		t.Fatalf("SetValue a: %v", err)
	}
	if err := m1.Params.SetValue(dejong.FieldB, params.Float64(-1)); err != nil {
		t.Fatalf("SetValue b: %v", err)
	}
	a.KeyframeAppend(m1.Snapshot(), nil)
	a.Keyframe(0).Duration = 2.0
	a.Keyframe(0).Spline = nil // linear, so alpha isn't remapped

	m2 := newTestMap(10)
	if err := m2.Params.SetValue(dejong.FieldA, params.Float64(-3)); err != nil {
		t.Fatalf("SetValue a: %v", err)
	}
	if err := m2.Params.SetValue(dejong.FieldB, params.Float64(4)); err != nil {
		t.Fatalf("SetValue b: %v", err)
	}
	a.KeyframeAppend(m2.Snapshot(), nil)
	a.Keyframe(1).Duration = 0.1 // a brief hold past the transition, so frame 20 is still reachable

	const frameRate = 10.0
	start := newTestMap(11)
	end := newTestMap(11)
	it := a.IterFirst()

	var frame0, frame10, frame20 float64
	call := 0
	for {
		ok, err := a.IterReadFrame(it, start, end, frameRate)
		if err != nil {
			t.Fatalf("IterReadFrame (call %d): %v", call, err)
		}
		if !ok {
			break
		}
		call++
		switch call {
		case 1:
			frame0 = start.Params.MustGet(dejong.FieldA).F
		case 10:
			frame10 = end.Params.MustGet(dejong.FieldA).F
		case 20:
			frame20 = end.Params.MustGet(dejong.FieldA).F
		}
		if call > 25 {
			t.Fatal("IterReadFrame never returned false")
		}
	}

	if frame0 != 2 {
		t.Errorf("frame 0 a = %v, want 2", frame0)
	}
	if frame10 != -0.5 {
		t.Errorf("frame 10 a = %v, want -0.5", frame10)
	}
	if frame20 != -3 {
		t.Errorf("frame 20 a = %v, want -3", frame20)
	}
	if call != 20 {
		t.Errorf("IterReadFrame returned true %d times, want 20 (false once the animation is exhausted)", call)
	}
}

func TestLoadRejectsUnknownSignature(t *testing.T) {
	b := New()
	err := b.Load(bytes.NewReader([]byte("not a fyre animation file")), nil)
	if err == nil {
		t.Error("Load with bad signature should return an error")
	}
}
