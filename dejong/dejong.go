// Package dejong implements the Peter de Jong chaotic map: the
// iteration
//
//	x' = sin(a*y) - cos(b*x)
//	y' = sin(c*x) - cos(d*y)
//
// plotted into a package histogram.Imager. A Map embeds an Imager the
// way the original's DeJong object inherits from HistogramImager
// (itself inheriting the parameter-holder contract), adding its own
// map coefficients, view transform, motion blur, and oversampling
// jitter on top of the inherited histogram fields.
//
// Calculation is driven by time budget (Run, CalculateTimed) rather
// than a fixed iteration count, mirroring iterative-map.c's idle
// handler: each call measures how long the last batch actually took
// and adjusts the next batch's size to hit the target duration.
package dejong

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/davidt/fyre/fyreerr"
	"github.com/davidt/fyre/histogram"
	"github.com/davidt/fyre/params"
	"github.com/davidt/fyre/rng"
)

// Field names for the map's own parameters, layered on top of the
// embedded Imager's size/rendering fields.
const (
	FieldA                    = "a"
	FieldB                    = "b"
	FieldC                    = "c"
	FieldD                    = "d"
	FieldZoom                 = "zoom"
	FieldAspect               = "aspect"
	FieldXOffset              = "xoffset"
	FieldYOffset              = "yoffset"
	FieldRotation             = "rotation"
	FieldBlurRadius           = "blur_radius"
	FieldBlurRatio            = "blur_ratio"
	FieldTileable             = "tileable"
	FieldEmphasizeTransient   = "emphasize_transient"
	FieldTransientIterations  = "transient_iterations"
	FieldInitialConditions    = "initial_conditions"
	FieldInitialXScale        = "initial_xscale"
	FieldInitialYScale        = "initial_yscale"
	FieldInitialXOffset       = "initial_xoffset"
	FieldInitialYOffset       = "initial_yoffset"
)

// InitialConditions names the distributions transient re-randomization
// can draw from, mirroring initial_conditions_enum.
const (
	InitialCircularUniform = "circular_uniform"
	InitialSquareUniform   = "square_uniform"
	InitialGaussian        = "gaussian"
	InitialRadial          = "radial"
	InitialSphere          = "sphere"
)

var initialConditionNames = []string{
	InitialCircularUniform, InitialSquareUniform, InitialGaussian, InitialRadial, InitialSphere,
}

// Fields is the canonical field table for a de Jong map's own
// parameters, mirroring de_jong_init_calc_params's GParamSpecs. A Map
// also carries histogram.Fields() via its embedded Imager.
func Fields() []params.Field {
	const group = "Computation"
	const dependsOnTransient = FieldEmphasizeTransient
	return []params.Field{
		{Name: FieldA, Kind: params.KindFloat64, Default: params.Float64(2.38767), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 5},
		{Name: FieldB, Kind: params.KindFloat64, Default: params.Float64(-1.22713), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 5},
		{Name: FieldC, Kind: params.KindFloat64, Default: params.Float64(-0.39595), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 5},
		{Name: FieldD, Kind: params.KindFloat64, Default: params.Float64(-4.67104), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 5},
		{Name: FieldZoom, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.01, Page: 0.1, Digits: 3},
		{Name: FieldAspect, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.1, Digits: 3},
		{Name: FieldXOffset, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3},
		{Name: FieldYOffset, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3},
		{Name: FieldRotation, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3},
		{Name: FieldBlurRadius, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.0001, Page: 0.001, Digits: 4},
		{Name: FieldBlurRatio, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.01, Page: 0.1, Digits: 4},
		{Name: FieldTileable, Kind: params.KindBool, Default: params.Bool(false), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group},
		{Name: FieldEmphasizeTransient, Kind: params.KindBool, Default: params.Bool(false), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group},
		{Name: FieldTransientIterations, Kind: params.KindUint, Default: params.Uint(50), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 1, Page: 10, DependsOn: dependsOnTransient},
		{Name: FieldInitialConditions, Kind: params.KindEnum, Default: params.Enum(InitialCircularUniform), Legal: initialConditionNames, Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, DependsOn: dependsOnTransient},
		{Name: FieldInitialXScale, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3, DependsOn: dependsOnTransient},
		{Name: FieldInitialYScale, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3, DependsOn: dependsOnTransient},
		{Name: FieldInitialXOffset, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3, DependsOn: dependsOnTransient},
		{Name: FieldInitialYOffset, Kind: params.KindFloat64, Default: params.Float64(0), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: group, Step: 0.001, Page: 0.01, Digits: 3, DependsOn: dependsOnTransient},
	}
}

// iterLimitLow and iterLimitHigh bound the batch size CalculateTimed
// picks: too few iterations and the next speed estimate is noisy, too
// many and a single batch can overrun its time budget badly.
const (
	iterLimitLow  = 1000
	iterLimitHigh = 10_000_000
)

// Map is a Peter de Jong chaotic map rendering into an embedded
// histogram.Imager. It owns its own params.Holder for the map's
// parameters; Imager owns the histogram/image fields separately.
type Map struct {
	*histogram.Imager
	Params *params.Holder
	RNG    *rng.Source

	calcDirty bool

	iterations                   float64
	iterSpeedEstimate            float64
	pointX, pointY               float64
	remainingTransientIterations uint
}

// New returns a Map with default parameters, seeded from seed.
func New(seed int64) *Map {
	m := &Map{
		Imager:            histogram.New(),
		Params:            params.NewHolder(Fields()),
		RNG:               rng.New(seed),
		iterSpeedEstimate: 1_000_000,
	}
	m.calcDirty = true
	return m
}

func (m *Map) f(name string) float64 { return m.Params.MustGet(name).F }
func (m *Map) u(name string) uint64  { return m.Params.MustGet(name).U }
func (m *Map) b(name string) bool    { return m.Params.MustGet(name).B }

// resetCalc reinitializes the iteration state: clears the histogram,
// zeroes the iteration count, and picks a fresh random starting point.
// Mirrors de_jong_reset_calc.
func (m *Map) resetCalc() {
	m.Imager.Clear()
	m.iterations = 0
	m.remainingTransientIterations = 0
	m.pointX = m.RNG.Uniform()
	m.pointY = m.RNG.Uniform()
	m.calcDirty = false
}

// Iterations returns the total number of map iterations accumulated
// since the last Clear/reset.
func (m *Map) Iterations() float64 { return m.iterations }

// MergeIterations adds delta to the accumulated iteration count without
// running any calculation, for a cluster node folding in a worker's
// reported progress alongside the worker's own histogram stream.
func (m *Map) MergeIterations(delta float64) {
	m.iterations += delta
}

func initialCondition(name string, r *rng.Source) (x, y float64) {
	switch name {
	case InitialSquareUniform:
		return r.Uniform()*2 - 1, r.Uniform()*2 - 1
	case InitialGaussian:
		return r.NormalPair()
	case InitialRadial:
		theta := r.Uniform() * math.Pi * 2
		radius := r.Uniform()
		return math.Cos(theta) * radius, math.Sin(theta) * radius
	case InitialSphere:
		vx, vy := r.NormalPair()
		vz, _ := r.NormalPair()
		mag := math.Sqrt(vx*vx + vy*vy + vz*vz)
		return vx / mag, vy / mag
	default: // InitialCircularUniform
		for {
			i := r.Uniform()*2 - 1
			j := r.Uniform()*2 - 1
			if i*i+j*j <= 1 {
				return i, j
			}
		}
	}
}

// findUpperPow2 returns the smallest power of two >= x.
func findUpperPow2(x int) int {
	p := 1
	for p < x {
		p <<= 1
	}
	return p
}

const oversampleTableSize = 32

// Calculate runs exactly iterations steps of the de Jong map, plotting
// each into the embedded histogram. It's the direct analog of
// de_jong_calculate.
func (m *Map) Calculate(iterations uint) {
	if m.calcDirty {
		m.resetCalc()
	}

	a, bC, c, d := m.f(FieldA), m.f(FieldB), m.f(FieldC), m.f(FieldD)
	tileable := m.b(FieldTileable)

	plot := m.Imager.PreparePlots()
	histWidth, histHeight := m.Imager.HistSize()

	zoom := m.f(FieldZoom)
	aspect := m.f(FieldAspect)
	rotation := m.f(FieldRotation)
	blurRadius := m.f(FieldBlurRadius)
	blurRatio := m.f(FieldBlurRatio)
	emphasizeTransient := m.b(FieldEmphasizeTransient)

	rotationEnabled := rotation > 0.0001 || rotation < -0.0001
	blurEnabled := blurRatio > 0.0001 && blurRadius > 0.00001
	aspectEnabled := aspect > 1.0001 || aspect < 0.9999
	matrixEnabled := aspectEnabled || rotationEnabled
	oversampleEnabled := m.oversampleFactor() > 1

	scale := float64(histWidth) / 5.0 * zoom
	xcenter := float64(histWidth)/2.0 + m.f(FieldXOffset)*scale
	ycenter := float64(histHeight)/2.0 + m.f(FieldYOffset)*scale

	var matA, matB, matC, matD float64
	if matrixEnabled {
		if rotationEnabled {
			sr, cr := math.Sin(rotation), math.Cos(rotation)
			matA = cr * aspect
			matB = sr / aspect
			matC = -sr * aspect
			matD = cr / aspect
		} else {
			matA = aspect
			matD = 1 / aspect
		}
	}

	var blurTable []float64
	var blurIndex, blurRatioIndex, blurRatioThreshold int
	const blurRatioPeriod = 1024
	if blurEnabled {
		size := findUpperPow2(int(iterations) / 50)
		if size < 2 {
			size = 2
		}
		blurTable = make([]float64, size)
		for i := 0; i < size; i += 2 {
			av, bv := m.RNG.NormalPair()
			blurTable[i] = av * blurRadius
			blurTable[i+1] = bv * blurRadius
		}
		blurRatioThreshold = int(blurRatio * blurRatioPeriod)
	}

	var oversampleTable [oversampleTableSize]float64
	var oversampleIndex int
	if oversampleEnabled {
		for i := range oversampleTable {
			oversampleTable[i] = m.RNG.Uniform()*2 - 1
		}
	}

	pointX, pointY := m.pointX, m.pointY
	remaining := m.remainingTransientIterations
	transientIterations := uint(m.u(FieldTransientIterations))
	initialName := m.Params.MustGet(FieldInitialConditions).Enum
	initialXScale, initialYScale := m.f(FieldInitialXScale), m.f(FieldInitialYScale)
	initialXOffset, initialYOffset := m.f(FieldInitialXOffset), m.f(FieldInitialYOffset)

	for i := uint(0); i < iterations; i++ {
		if emphasizeTransient {
			if remaining > 0 {
				remaining--
			} else {
				remaining = transientIterations - 1
				ix, iy := initialCondition(initialName, m.RNG)
				pointX = initialXScale*ix + initialXOffset
				pointY = initialYScale*iy + initialYOffset
			}
		}

		x := math.Sin(a*pointY) - math.Cos(bC*pointX)
		y := math.Sin(c*pointX) - math.Cos(d*pointY)
		pointX, pointY = x, y

		if matrixEnabled {
			x = pointX*matA + pointY*matB
			y = pointX*matC + pointY*matD
		}

		if blurEnabled {
			if blurRatioIndex < blurRatioThreshold {
				x += blurTable[blurIndex]
				blurIndex = (blurIndex + 1) & (len(blurTable) - 1)
				y += blurTable[blurIndex]
				blurIndex = (blurIndex + 1) & (len(blurTable) - 1)
			}
			blurRatioIndex = (blurRatioIndex + 1) & (blurRatioPeriod - 1)
		}

		x = x*scale + xcenter
		y = y*scale + ycenter

		if oversampleEnabled {
			x += oversampleTable[oversampleIndex]
			oversampleIndex = (oversampleIndex + 1) & (oversampleTableSize - 1)
			y += oversampleTable[oversampleIndex]
			oversampleIndex = (oversampleIndex + 1) & (oversampleTableSize - 1)
		}

		ix := floorToInt(x)
		iy := floorToInt(y)

		if tileable {
			ix = wrap(ix, histWidth)
			iy = wrap(iy, histHeight)
		} else {
			if uint(ix) >= uint(histWidth) || uint(iy) >= uint(histHeight) {
				continue
			}
		}

		plot.Plot(ix, iy)
	}

	m.Imager.FinishPlots(plot)
	m.iterations += float64(iterations)
	m.pointX, m.pointY = pointX, pointY
	m.remainingTransientIterations = remaining
}

func floorToInt(x float64) int {
	return int(math.Floor(x))
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// Clear marks the map's calculation state dirty: the next Calculate
// clears the histogram, zeroes the iteration count and the transient
// counter, and starts from a fresh random point.
func (m *Map) Clear() {
	m.calcDirty = true
}

// oversampleFactor reads the embedded Imager's own oversample setting,
// since dejong.Map doesn't duplicate it.
func (m *Map) oversampleFactor() uint {
	return uint(m.Imager.Params.MustGet(histogram.FieldOversample).U)
}

// CalculateMotion divides iterations into ten blocks, re-positioning
// the map along interp at a random point within each block before
// running it. This produces accurate motion blur: each block renders
// at a slightly different point along the transition, and the law of
// large numbers blends them into a blurred streak as iterations grows.
// continuation must be true on every call but the first for one
// transition, since only the first should reset calculation state.
func (m *Map) CalculateMotion(iterations uint, continuation bool, interp func(alpha float64)) {
	blocksize := iterations / 10
	if blocksize == 0 {
		blocksize = 1
	}
	for count := uint(0); count < iterations; count += blocksize {
		interp(m.RNG.Uniform())
		m.calcDirty = count == 0 && !continuation
		remaining := iterations - count
		if remaining < blocksize {
			blocksize = remaining
		}
		m.Calculate(blocksize)
	}
}

func limitIterations(iters float64) uint {
	i := iters
	if i < iterLimitLow {
		i = iterLimitLow
	}
	if i > iterLimitHigh {
		i = iterLimitHigh
	}
	return uint(i)
}

// CalculateTimed runs approximately `seconds` worth of iterations,
// using the previous call's measured rate to pick a batch size, then
// updating that rate from how long this call actually took. Mirrors
// iterative_map_calculate_timed's self-tuning idle-handler loop.
func (m *Map) CalculateTimed(seconds float64) {
	iterations := limitIterations(m.iterSpeedEstimate*seconds + 0.5)

	start := time.Now()
	m.Calculate(iterations)
	elapsed := time.Since(start).Seconds()

	if elapsed > 0 {
		m.iterSpeedEstimate = float64(iterations) / elapsed
	}
}

// CalculateMotionTimed is CalculateMotion's timed-budget counterpart.
func (m *Map) CalculateMotionTimed(seconds float64, continuation bool, interp func(alpha float64)) {
	iterations := limitIterations(m.iterSpeedEstimate*seconds + 0.5)

	start := time.Now()
	m.CalculateMotion(iterations, continuation, interp)
	elapsed := time.Since(start).Seconds()

	if elapsed > 0 {
		m.iterSpeedEstimate = float64(iterations) / elapsed
	}
}

// DefaultRenderTime is the per-burst time budget iterative_map_init
// sets on a freshly constructed map: 15ms, tuned for interactive use
// in a GUI main loop.
const DefaultRenderTime = 15 * time.Millisecond

// Run drives CalculateTimed in a loop, back to back with each burst
// sized to take about renderTime, until ctx is canceled, reporting each batch's resulting quality on
// progress. It's the Go equivalent of start_calculation's idle
// handler: rather than registering a callback with a GUI toolkit's
// main loop, the caller owns a goroutine and a context.
func (m *Map) Run(ctx context.Context, renderTime time.Duration, progress func(quality float64)) {
	if renderTime <= 0 {
		renderTime = DefaultRenderTime
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.CalculateTimed(renderTime.Seconds())
		if progress != nil {
			progress(m.ComputeQuality())
		}
	}
}

// Snapshot is a Map's complete parameter state: its own map/view/blur
// fields plus the embedded Imager's size/rendering fields. The
// original's DeJong object is simultaneously a ParameterHolder and a
// HistogramImager, so one saved keyframe string covers both; Snapshot
// plays that combined role explicitly as two separate holders.
type Snapshot struct {
	DeJong *params.Holder
	Imager *params.Holder
}

// Snapshot captures m's current parameters as an independent copy,
// suitable for storing in an animation keyframe or as one leg of an
// Interpolate call.
func (m *Map) Snapshot() *Snapshot {
	return &Snapshot{DeJong: m.Params.Clone(), Imager: m.Imager.Params.Clone()}
}

// Apply replaces m's parameters with s's, marking both the map's
// calculation state and the histogram's geometry dirty so the next
// Calculate/Image call picks up the new values from scratch.
func (m *Map) Apply(s *Snapshot) {
	m.Params = s.DeJong.Clone()
	m.Imager.ApplyParams(s.Imager.Clone())
	m.calcDirty = true
}

// InterpolateFrom sets m's parameters to the linear interpolation of a
// and b at alpha, the same blend animation.Animation's IterLoad uses
// between two keyframes. Only fields marked Interpolate in Fields()/
// histogram.Fields() are set: floats and colors blend continuously,
// bools and enums switch at alpha=0.5. Fields not marked Interpolate
// keep m's current values.
func (m *Map) InterpolateFrom(alpha float64, a, b *Snapshot) {
	m.Params.InterpolateLinear(alpha, params.Pair{A: a.DeJong, B: b.DeJong})
	m.Imager.Params.InterpolateLinear(alpha, params.Pair{A: a.Imager, B: b.Imager})
	m.calcDirty = true
}

// SaveString renders s as a single "name = value" text blob combining
// both holders, the format an animation keyframe stores on disk.
func (s *Snapshot) SaveString() string {
	dj := s.DeJong.SaveString()
	im := s.Imager.SaveString()
	switch {
	case dj == "":
		return im
	case im == "":
		return dj
	default:
		return dj + "\n" + im
	}
}

// ParseSnapshot builds a Snapshot from a string produced by SaveString
// (or by a hand-edited parameter file). Lines naming a field neither
// holder recognizes are ignored, matching parameter_holder_set's
// warn-and-ignore treatment of unknown properties; a line naming a
// known field with an unparsable value is a hard error.
func ParseSnapshot(text string) (*Snapshot, error) {
	s := &Snapshot{
		DeJong: params.NewHolder(Fields()),
		Imager: params.NewHolder(histogram.Fields()),
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		err := s.DeJong.SetFromLine(line)
		if err == nil {
			continue
		}
		if !errors.Is(err, fyreerr.ErrUnknownProperty) {
			return nil, err
		}
		err = s.Imager.SetFromLine(line)
		if err == nil || errors.Is(err, fyreerr.ErrUnknownProperty) {
			continue
		}
		return nil, err
	}
	return s, nil
}
