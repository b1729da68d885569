// Package params implements the typed parameter holder shared by
// package dejong's map coefficients and package animation's keyframes:
// a fixed table of named fields, each with a default and a type, that
// can be set from strings (as sent over the remote protocol or loaded
// from a chunked file), serialized back to strings, and linearly
// interpolated between two holders of the same shape.
//
// The original implementation attaches this behavior to a GObject base
// class and looks up GParamSpecs by name at runtime. Here a Holder
// embeds a fixed []Field table built once at construction, and values
// live in a map keyed by field name; there is no runtime property
// registration.
package params

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/fyreerr"
)

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindFloat64 Kind = iota
	KindUint
	KindBool
	KindEnum
	KindColor
)

// Value is a tagged union over the field types Fyre's parameters use:
// floating point map coefficients, unsigned pixel/iteration counts,
// booleans, enumerations (stored by name, validated against a fixed
// set of legal values) and RGB colors.
type Value struct {
	Kind  Kind
	F     float64
	U     uint64
	B     bool
	Enum  string
	Color color.RGBA
}

func Float64(f float64) Value { return Value{Kind: KindFloat64, F: f} }
func Uint(u uint64) Value     { return Value{Kind: KindUint, U: u} }
func Bool(b bool) Value       { return Value{Kind: KindBool, B: b} }
func Enum(s string) Value     { return Value{Kind: KindEnum, Enum: s} }
func Col(c color.RGBA) Value  { return Value{Kind: KindColor, Color: c} }

// String renders v the way save_string/the remote protocol expect:
// plain for numbers and bools, the symbolic name for enums, and
// "#rrggbb" for colors.
func (v Value) String() string {
	switch v.Kind {
	case KindFloat64:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindUint:
		return strconv.FormatUint(v.U, 10)
	case KindBool:
		if v.B {
			return "true"
		}
		return "false"
	case KindEnum:
		return v.Enum
	case KindColor:
		return fmt.Sprintf("#%02x%02x%02x", v.Color.R, v.Color.G, v.Color.B)
	default:
		return ""
	}
}

// parse converts s into a Value of the given kind. Enum values are validated against legal; everything else
// follows strconv's usual parsing rules.
func parse(kind Kind, s string, legal []string) (Value, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case KindFloat64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.Wrapf(fyreerr.ErrBadValue, "parse float %q", s)
		}
		return Float64(f), nil
	case KindUint:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, errors.Wrapf(fyreerr.ErrBadValue, "parse uint %q", s)
		}
		return Uint(u), nil
	case KindBool:
		switch strings.ToLower(s) {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		default:
			u, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return Value{}, errors.Wrapf(fyreerr.ErrBadValue, "parse bool %q", s)
			}
			return Bool(u != 0), nil
		}
	case KindEnum:
		for _, l := range legal {
			if l == s {
				return Enum(s), nil
			}
		}
		return Value{}, errors.Wrapf(fyreerr.ErrBadValue, "%q is not one of %v", s, legal)
	case KindColor:
		c, err := parseHexColor(s)
		if err != nil {
			return Value{}, errors.Wrapf(fyreerr.ErrBadValue, "parse color %q", s)
		}
		return Col(c), nil
	default:
		return Value{}, errors.Errorf("params: unknown kind %d", kind)
	}
}

func parseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, errors.New("want 6 hex digits")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, err
	}
	return color.RGBA{
		R: byte(v >> 16),
		G: byte(v >> 8),
		B: byte(v),
		A: 0xff,
	}, nil
}

// Field describes one named parameter: its kind, default value, the
// flags that control serialization and interpolation, and the GUI
// metadata the original attaches to a GParamSpec with
// param_spec_set_group, param_spec_set_increments and
// param_spec_set_dependency, and the PARAM_IN_GUI flag.
type Field struct {
	Name        string
	Kind        Kind
	Default     Value
	Legal       []string // for KindEnum only
	Serialize   bool
	Interpolate bool

	// GUIVisible mirrors PARAM_IN_GUI: whether an explorer UI should
	// offer a control for this field at all. Fyre itself never builds
	// one, but the flag is part of a field's identity regardless.
	GUIVisible bool
	// Group mirrors param_spec_set_group: the named section a GUI
	// would display this field under (e.g. "Computation", "Rendering").
	Group string
	// Step and Page mirror param_spec_set_increments' step/page
	// increments: the amount a spin button's arrow and Page Up/Down
	// keys would adjust the value by.
	Step, Page float64
	// Digits mirrors param_spec_set_increments' digits: the number of
	// decimal places a GUI should display.
	Digits int
	// DependsOn mirrors param_spec_set_dependency: the name of another
	// field whose value gates whether this one has any effect (e.g.
	// transient_iterations only matters when emphasize_transient is
	// set).
	DependsOn string
}

// Holder is an ordered set of named, typed parameters with a current
// value for each. Zero value is not usable; build one with NewHolder.
type Holder struct {
	fields []Field
	index  map[string]int
	values []Value
}

// NewHolder builds a Holder over the given field table, with every
// value set to its field's default. The table's order is preserved for
// SaveString's output and is expected to be a package-level constant.
func NewHolder(fields []Field) *Holder {
	h := &Holder{
		fields: fields,
		index:  make(map[string]int, len(fields)),
		values: make([]Value, len(fields)),
	}
	for i, f := range fields {
		h.index[f.Name] = i
		h.values[i] = f.Default
	}
	return h
}

// Fields returns the holder's field table, in declaration order.
func (h *Holder) Fields() []Field { return h.fields }

// Get returns the current value of name and whether it exists.
func (h *Holder) Get(name string) (Value, bool) {
	i, ok := h.index[name]
	if !ok {
		return Value{}, false
	}
	return h.values[i], true
}

// MustGet returns the current value of name, panicking if it doesn't
// exist. Intended for use by a package's own field accessors, where
// the name is always a compile-time constant matching its own table.
func (h *Holder) MustGet(name string) Value {
	v, ok := h.Get(name)
	if !ok {
		panic("params: no such field: " + name)
	}
	return v
}

// SetValue assigns a typed value directly, bypassing string parsing.
// It returns fyreerr.ErrUnknownProperty if name isn't in the table.
func (h *Holder) SetValue(name string, v Value) error {
	i, ok := h.index[name]
	if !ok {
		return errors.Wrapf(fyreerr.ErrUnknownProperty, "%q", name)
	}
	h.values[i] = v
	return nil
}

// Set parses value according to name's field kind and assigns it.
// Errors for an unknown property are returned rather than logged, so
// callers (the remote protocol, chunk loaders) can choose whether to
// surface them.
func (h *Holder) Set(name, value string) error {
	i, ok := h.index[name]
	if !ok {
		return errors.Wrapf(fyreerr.ErrUnknownProperty, "%q", name)
	}
	f := h.fields[i]
	v, err := parse(f.Kind, value, f.Legal)
	if err != nil {
		return err
	}
	h.values[i] = v
	return nil
}

// SetFromLine parses a "name = value" or "name=value" line and applies
// it via Set. Lines missing an '=' are silently ignored, matching
// parameter_holder_set_from_line's tolerance of blank and comment
// lines in saved parameter files.
func (h *Holder) SetFromLine(line string) error {
	k, v, ok := splitParamLine(line)
	if !ok {
		return nil
	}
	return h.Set(k, v)
}

func splitParamLine(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

// ResetToDefaults sets every field back to its Field.Default.
func (h *Holder) ResetToDefaults() {
	for i, f := range h.fields {
		h.values[i] = f.Default
	}
}

// SaveString renders every Serialize field whose current value
// differs from its default as a "name = value" line, one per line,
// sorted by name for a deterministic file layout.
func (h *Holder) SaveString() string {
	type kv struct{ k, v string }
	var lines []kv
	for i, f := range h.fields {
		if !f.Serialize {
			continue
		}
		if valueEqual(h.values[i], f.Default) {
			continue
		}
		lines = append(lines, kv{f.Name, h.values[i].String()})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].k < lines[j].k })

	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s = %s", l.k, l.v)
	}
	return b.String()
}

// LoadString resets every field to its default, then applies each
// "name = value" line of params in turn. Unrecognized lines are
// ignored; unrecognized property names return an error on the first
// offender, matching Set's behavior for a single assignment.
func (h *Holder) LoadString(params string) error {
	h.ResetToDefaults()
	for _, line := range strings.Split(params, "\n") {
		k, v, ok := splitParamLine(line)
		if !ok {
			continue
		}
		if err := h.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Pair names the two holders InterpolateLinear reads from.
type Pair struct {
	A, B *Holder
}

// InterpolateLinear sets every Interpolate field of h to the
// interpolation of p.A and p.B's values at position alpha in [0, 1].
// Floats and colors blend component-wise; uints round to nearest;
// bools and enums switch at the midpoint, since there's no continuum
// between two enumerated choices. h, p.A and p.B must share the same
// field table.
func (h *Holder) InterpolateLinear(alpha float64, p Pair) {
	for i, f := range h.fields {
		if !f.Interpolate {
			continue
		}
		a, aok := p.A.Get(f.Name)
		b, bok := p.B.Get(f.Name)
		if !aok || !bok {
			continue
		}
		h.values[i] = interpolateValue(f.Kind, alpha, a, b)
	}
}

func interpolateValue(kind Kind, alpha float64, a, b Value) Value {
	switch kind {
	case KindFloat64:
		return Float64(a.F*(1-alpha) + b.F*alpha)
	case KindUint:
		return Uint(uint64(float64(a.U)*(1-alpha) + float64(b.U)*alpha + 0.5))
	case KindColor:
		lerp := func(x, y byte) byte {
			return byte(float64(x)*(1-alpha) + float64(y)*alpha + 0.5)
		}
		return Col(color.RGBA{
			R: lerp(a.Color.R, b.Color.R),
			G: lerp(a.Color.G, b.Color.G),
			B: lerp(a.Color.B, b.Color.B),
			A: 0xff,
		})
	case KindBool:
		if alpha < 0.5 {
			return a
		}
		return b
	case KindEnum:
		if alpha < 0.5 {
			return a
		}
		return b
	default:
		return a
	}
}

func valueEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindFloat64:
		return a.F == b.F
	case KindUint:
		return a.U == b.U
	case KindBool:
		return a.B == b.B
	case KindEnum:
		return a.Enum == b.Enum
	case KindColor:
		return a.Color == b.Color
	default:
		return true
	}
}

// Clone returns an independent copy of h, sharing the same field
// table but with its own value slice, suitable as one leg of a Pair.
func (h *Holder) Clone() *Holder {
	c := &Holder{
		fields: h.fields,
		index:  h.index,
		values: make([]Value, len(h.values)),
	}
	copy(c.values, h.values)
	return c
}
