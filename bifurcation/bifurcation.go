// Package bifurcation implements a bifurcation diagram: a histogram
// where the horizontal axis sweeps a de Jong parameter interpolation
// and each column independently iterates the raw map (no rotation,
// blur, or oversampling) and plots the trajectory's y coordinate.
//
// Unlike the main map's whole-frame iteration, a diagram is scanned
// column by column: each column keeps its own persisted trajectory
// point across Calculate calls so that its transient fades out over
// many calls rather than restarting every time, and caches a handful
// of randomly chosen interpolated parameter sets so that repeated
// visits to the same column don't pay interpolation cost every
// iteration.
package bifurcation

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/histogram"
	"github.com/davidt/fyre/rng"
)

// yMin and yMax bound the trajectory's y coordinate as it's projected
// onto the histogram's vertical axis. A point outside this range is
// dropped rather than clipped or wrapped.
const (
	yMin = -3.0
	yMax = 3.0
)

// interpolatedSlots is the number of cached (a, b, c, d) tuples each
// column keeps, indexed at random on every visit so that the column's
// parameters still vary from call to call instead of freezing at the
// first value ever computed for it.
const interpolatedSlots = 8

// Interpolator returns the de Jong map coefficients at position alpha
// (0 at the diagram's left edge, 1 at its right edge) along whatever
// path the caller wants to sweep.
type Interpolator func(alpha float64) (a, b, c, d float64)

type interpolated struct {
	valid      bool
	a, b, c, d float64
}

type column struct {
	ix             uint
	pointValid     bool
	pointX, pointY float64
	interpolated   [interpolatedSlots]interpolated
}

// Diagram is a histogram.Imager specialized to render a bifurcation
// scan: its width is the number of distinct interpolation columns, and
// Calculate advances a round-robin scan across them rather than
// iterating the whole frame at once.
type Diagram struct {
	*histogram.Imager

	rng    *rng.Source
	interp Interpolator

	columns       []column
	currentColumn int
	calcDirty     bool
}

// New returns an empty diagram. Resize the embedded Imager and call
// SetInterpolator or SetLinearEndpoints before the first Calculate.
func New(r *rng.Source) *Diagram {
	return &Diagram{
		Imager:    histogram.New(),
		rng:       r,
		calcDirty: true,
	}
}

// SetInterpolator installs interp as the diagram's parameter sweep and
// invalidates every column's cached parameters and trajectory, so the
// next Calculate starts the scan over with the new sweep.
func (bd *Diagram) SetInterpolator(interp Interpolator) {
	bd.interp = interp
	bd.calcDirty = true
}

// SetLinearEndpoints installs a linear interpolation between the a, b,
// c, d coefficients of first and second as the diagram's sweep, the
// common case of scanning straight between two saved parameter sets.
func (bd *Diagram) SetLinearEndpoints(first, second *dejong.Snapshot) {
	a0 := first.DeJong.MustGet(dejong.FieldA).F
	b0 := first.DeJong.MustGet(dejong.FieldB).F
	c0 := first.DeJong.MustGet(dejong.FieldC).F
	d0 := first.DeJong.MustGet(dejong.FieldD).F
	a1 := second.DeJong.MustGet(dejong.FieldA).F
	b1 := second.DeJong.MustGet(dejong.FieldB).F
	c1 := second.DeJong.MustGet(dejong.FieldC).F
	d1 := second.DeJong.MustGet(dejong.FieldD).F

	bd.SetInterpolator(func(alpha float64) (a, b, c, d float64) {
		lerp := func(x, y float64) float64 { return x*(1-alpha) + y*alpha }
		return lerp(a0, a1), lerp(b0, b1), lerp(c0, c1), lerp(d0, d1)
	})
}

// initColumns (re)builds the column array when the histogram width
// changes, assigning each column a shuffled source index so that
// adjacent scan visits don't correspond to adjacent parameter values
// (matching init_columns' Fisher-Yates shuffle of scan order), and
// clears every column's trajectory and parameter cache whenever the
// sweep itself changed.
func (bd *Diagram) initColumns() {
	histWidth, _ := bd.Imager.HistSize()

	if histWidth != len(bd.columns) {
		bd.columns = make([]column, histWidth)
		for i := range bd.columns {
			bd.columns[i].ix = uint(i)
		}
		for i := len(bd.columns) - 1; i > 0; i-- {
			j := bd.rng.Intn(i + 1)
			bd.columns[i].ix, bd.columns[j].ix = bd.columns[j].ix, bd.columns[i].ix
		}
		bd.currentColumn = 0
		bd.calcDirty = true
	}

	if bd.calcDirty {
		bd.Imager.Clear()
		for i := range bd.columns {
			bd.columns[i].pointValid = false
			for j := range bd.columns[i].interpolated {
				bd.columns[i].interpolated[j].valid = false
			}
		}
		bd.calcDirty = false
	}
}

// nextColumn returns the next column in round-robin scan order,
// lazily seeding its trajectory with a fresh random point the first
// time it's visited.
func (bd *Diagram) nextColumn() *column {
	col := &bd.columns[bd.currentColumn]
	bd.currentColumn++
	if bd.currentColumn >= len(bd.columns) {
		bd.currentColumn = 0
	}

	if !col.pointValid {
		col.pointX = bd.rng.Uniform()
		col.pointY = bd.rng.Uniform()
		col.pointValid = true
	}
	return col
}

// columnParams returns a, b, c, d for col, drawing from one of its
// cached slots at random and filling the slot from the interpolator on
// a cache miss.
func (bd *Diagram) columnParams(col *column) (a, b, c, d float64) {
	slot := &col.interpolated[bd.rng.Intn(len(col.interpolated))]
	if !slot.valid && bd.interp != nil {
		numColumns := len(bd.columns)
		var alpha float64
		if numColumns > 1 {
			alpha = (float64(col.ix) + bd.rng.Uniform()) / float64(numColumns)
		}
		slot.a, slot.b, slot.c, slot.d = bd.interp(alpha)
		slot.valid = true
	}
	return slot.a, slot.b, slot.c, slot.d
}

// Calculate runs iterationsTotal de Jong iterations across the
// diagram's columns, spending at most iterationsPerColumn of them on
// any one column before moving round-robin to the next. Each column's
// trajectory persists between calls, so repeated calls let a column's
// transient fade the same way a longer single call would.
func (bd *Diagram) Calculate(iterationsTotal, iterationsPerColumn uint) {
	bd.initColumns()

	plot := bd.Imager.PreparePlots()
	_, histHeight := bd.Imager.HistSize()

	remaining := iterationsTotal
	for remaining > 0 {
		col := bd.nextColumn()
		a, b, c, d := bd.columnParams(col)
		px, py := col.pointX, col.pointY

		colRemaining := iterationsPerColumn
		for remaining > 0 && colRemaining > 0 {
			x := math.Sin(a*py) - math.Cos(b*px)
			y := math.Sin(c*px) - math.Cos(d*py)
			px, py = x, y

			if y >= yMin && y < yMax {
				iy := int((y - yMin) / (yMax - yMin) * float64(histHeight))
				plot.Plot(int(col.ix), iy)
			}

			remaining--
			colRemaining--
		}

		col.pointX, col.pointY = px, py
	}

	bd.Imager.FinishPlots(plot)
}

// imageGrid adapts the diagram's rendered image as a
// plotter.GridXYZ, treating each pixel's luminance as the heatmap's z
// value.
type imageGrid struct {
	width, height int
	luma          func(x, y int) float64
}

func (g imageGrid) Dims() (c, r int) { return g.width, g.height }
func (g imageGrid) X(c int) float64  { return float64(c) }
func (g imageGrid) Y(r int) float64  { return float64(g.height - 1 - r) }
func (g imageGrid) Z(c, r int) float64 {
	return g.luma(c, g.height-1-r)
}

// RenderPlot draws the diagram as an axis-labeled heatmap and saves it
// to path, sized width x height points.
func (bd *Diagram) RenderPlot(path string, width, height vg.Length) error {
	img := bd.Imager.Image()
	b := img.Bounds()

	grid := imageGrid{
		width:  b.Dx(),
		height: b.Dy(),
		luma: func(x, y int) float64 {
			c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
			return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		},
	}

	p := plot.New()
	p.Title.Text = "Bifurcation diagram"
	p.X.Label.Text = "interpolation parameter"
	p.Y.Label.Text = "y"

	h := plotter.NewHeatMap(grid, palette.Heat(256, 1))
	p.Add(h)

	return p.Save(width, height, path)
}
