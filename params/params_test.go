package params

import "testing"

func testFields() []Field {
	return []Field{
		{Name: "a", Kind: KindFloat64, Default: Float64(1.0), Serialize: true, Interpolate: true},
		{Name: "iterations", Kind: KindUint, Default: Uint(1000), Serialize: true, Interpolate: true},
		{Name: "tileable", Kind: KindBool, Default: Bool(false), Serialize: true, Interpolate: true},
		{Name: "blending", Kind: KindEnum, Default: Enum("linear"), Legal: []string{"linear", "gamma"}, Serialize: true},
	}
}

func TestSetAndGet(t *testing.T) {
	h := NewHolder(testFields())
	if err := h.Set("a", "2.5"); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	v, ok := h.Get("a")
	if !ok || v.F != 2.5 {
		t.Errorf("Get a = %+v, ok=%v, want 2.5", v, ok)
	}

	if err := h.Set("nonexistent", "1"); err == nil {
		t.Error("Set on unknown field: want error, got nil")
	}

	if err := h.Set("blending", "bogus"); err == nil {
		t.Error("Set enum to illegal value: want error, got nil")
	}
}

func TestSaveAndLoadString(t *testing.T) {
	h := NewHolder(testFields())
	if err := h.Set("a", "3.0"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Set("iterations", "5000"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	saved := h.SaveString()

	h2 := NewHolder(testFields())
	if err := h2.LoadString(saved); err != nil {
		t.Fatalf("LoadString(%q): %v", saved, err)
	}

	va, _ := h2.Get("a")
	if va.F != 3.0 {
		t.Errorf("a after load = %v, want 3.0", va.F)
	}
	vi, _ := h2.Get("iterations")
	if vi.U != 5000 {
		t.Errorf("iterations after load = %v, want 5000", vi.U)
	}

	// blending was never set, so it must still carry its default.
	vb, _ := h2.Get("blending")
	if vb.Enum != "linear" {
		t.Errorf("blending after load = %v, want default linear", vb.Enum)
	}
}

func TestResetToDefaults(t *testing.T) {
	h := NewHolder(testFields())
	if err := h.Set("a", "99"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h.ResetToDefaults()
	v, _ := h.Get("a")
	if v.F != 1.0 {
		t.Errorf("a after reset = %v, want default 1.0", v.F)
	}
}

func TestInterpolateLinear(t *testing.T) {
	fields := testFields()
	a := NewHolder(fields)
	b := NewHolder(fields)
	if err := a.Set("a", "0"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("a", "10"); err != nil {
		t.Fatal(err)
	}
	if err := a.Set("tileable", "true"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("tileable", "false"); err != nil {
		t.Fatal(err)
	}

	dst := NewHolder(fields)
	pair := Pair{A: a, B: b}

	dst.InterpolateLinear(0.25, pair)
	v, _ := dst.Get("a")
	if v.F != 2.5 {
		t.Errorf("InterpolateLinear(0.25) a = %v, want 2.5", v.F)
	}
	tb, _ := dst.Get("tileable")
	if tb.B != true {
		t.Errorf("InterpolateLinear(0.25) tileable = %v, want true (alpha<0.5 keeps a)", tb.B)
	}

	dst.InterpolateLinear(0.75, pair)
	tb, _ = dst.Get("tileable")
	if tb.B != false {
		t.Errorf("InterpolateLinear(0.75) tileable = %v, want false (alpha>=0.5 takes b)", tb.B)
	}
}

func TestSetFromLine(t *testing.T) {
	h := NewHolder(testFields())
	if err := h.SetFromLine("a = 7.0"); err != nil {
		t.Fatalf("SetFromLine: %v", err)
	}
	v, _ := h.Get("a")
	if v.F != 7.0 {
		t.Errorf("a after SetFromLine = %v, want 7.0", v.F)
	}

	// Lines with no '=' are silently ignored, not errors.
	if err := h.SetFromLine("# a comment"); err != nil {
		t.Errorf("SetFromLine on comment line: %v", err)
	}
}

func TestClone(t *testing.T) {
	h := NewHolder(testFields())
	if err := h.Set("a", "42"); err != nil {
		t.Fatal(err)
	}
	c := h.Clone()
	if err := c.Set("a", "0"); err != nil {
		t.Fatal(err)
	}
	v, _ := h.Get("a")
	if v.F != 42 {
		t.Errorf("original mutated via clone: a = %v, want 42", v.F)
	}
}
