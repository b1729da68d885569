// Package histogram implements the 2-D bucket accumulator at the
// center of every Fyre render: callers plot points into it while
// iterating a chaotic map, and it turns the resulting density counts
// into a displayable image via a gamma-corrected, exposure-scaled
// color table. It also tone-maps an oversampled buffer down to the
// output resolution, reports a convergence quality metric, and can
// export/merge its raw counts as a compact delta stream for
// distributed rendering.
//
// Like package dejong, an Imager is a params.Holder: its size and
// rendering knobs (width, height, oversample, exposure, gamma,
// oversample_gamma, fgcolor, bgcolor, fgalpha, bgalpha, clamped) are
// ordinary named fields, settable from strings and embeddable in a
// saved image's parameter text the same way a de Jong map's
// coefficients are.
package histogram

import (
	"image"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/fyreerr"
	"github.com/davidt/fyre/params"
	"github.com/davidt/fyre/varint"
)

// Field names, shared with callers that want to Set/Get directly
// rather than going through the typed accessors below.
const (
	FieldWidth           = "width"
	FieldHeight          = "height"
	FieldOversample      = "oversample"
	FieldExposure        = "exposure"
	FieldGamma           = "gamma"
	FieldOversampleGamma = "oversample_gamma"
	FieldFGColor         = "fgcolor"
	FieldBGColor         = "bgcolor"
	FieldFGAlpha         = "fgalpha"
	FieldBGAlpha         = "bgalpha"
	FieldClamped         = "clamped"
)

// Fields is the canonical field table for a histogram Imager,
// mirroring histogram_imager_init_size_params /
// histogram_imager_init_render_params's GParamSpec registrations.
func Fields() []params.Field {
	const sizeGroup = "Image Size"
	const renderGroup = "Rendering"
	return []params.Field{
		{Name: FieldWidth, Kind: params.KindUint, Default: params.Uint(600), Serialize: true,
			GUIVisible: true, Group: sizeGroup, Step: 1, Page: 16},
		{Name: FieldHeight, Kind: params.KindUint, Default: params.Uint(600), Serialize: true,
			GUIVisible: true, Group: sizeGroup, Step: 1, Page: 16},
		{Name: FieldOversample, Kind: params.KindUint, Default: params.Uint(1), Serialize: true,
			GUIVisible: true, Group: sizeGroup, Step: 1, Page: 1},
		{Name: FieldExposure, Kind: params.KindFloat64, Default: params.Float64(0.05), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup, Step: 0.001, Page: 0.01, Digits: 3},
		{Name: FieldGamma, Kind: params.KindFloat64, Default: params.Float64(1), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup, Step: 0.01, Page: 0.1, Digits: 3},
		{Name: FieldOversampleGamma, Kind: params.KindFloat64, Default: params.Float64(1.66), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup, Step: 0.01, Page: 0.1, Digits: 3, DependsOn: FieldOversample},
		{Name: FieldFGColor, Kind: params.KindColor, Default: params.Col(color.RGBA{A: 0xff}), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup},
		{Name: FieldBGColor, Kind: params.KindColor, Default: params.Col(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup},
		{Name: FieldFGAlpha, Kind: params.KindUint, Default: params.Uint(255), Serialize: true, Interpolate: true},
		{Name: FieldBGAlpha, Kind: params.KindUint, Default: params.Uint(255), Serialize: true, Interpolate: true},
		{Name: FieldClamped, Kind: params.KindBool, Default: params.Bool(false), Serialize: true, Interpolate: true,
			GUIVisible: true, Group: renderGroup},
	}
}

// Plot is the token prepare/finish plots pass around a render loop,
// tracking the density and point count accumulated during one batch
// of HISTOGRAM_IMAGER_PLOT-equivalent calls.
type Plot struct {
	hist    []uint32
	width   int
	density uint32
	count   uint64
}

// Imager owns a histogram buffer, a derived color table, and the image
// it renders to. It is not safe for concurrent use: the cooperative,
// single-threaded calculation model (package dejong) owns one Imager
// per in-progress render.
type Imager struct {
	Params *params.Holder

	width, height, oversample uint
	sizeDirty, renderDirty    bool

	histogram []uint32

	totalPointsPlotted float64
	peakDensity        uint64
	renderStart        time.Time

	colorTable struct {
		table   []color.RGBA
		quality []float64
	}

	oversampleTables struct {
		gamma        float64
		oversample   uint
		linearize    []uint32
		nonlinearize []byte
	}
}

// New returns an Imager with default parameters and no allocated
// buffers; buffers come into existence lazily on first use.
func New() *Imager {
	im := &Imager{Params: params.NewHolder(Fields())}
	im.sizeDirty = true
	im.applyGeometry()
	return im
}

func (im *Imager) applyGeometry() {
	im.width = uint(im.Params.MustGet(FieldWidth).U)
	im.height = uint(im.Params.MustGet(FieldHeight).U)
	im.oversample = uint(im.Params.MustGet(FieldOversample).U)
}

// Resize sets the output image dimensions, invalidating the histogram
// and image on the next render.
func (im *Imager) Resize(width, height uint) error {
	if err := im.Params.SetValue(FieldWidth, params.Uint(uint64(width))); err != nil {
		return err
	}
	if err := im.Params.SetValue(FieldHeight, params.Uint(uint64(height))); err != nil {
		return err
	}
	im.sizeDirty = true
	return nil
}

// SetOversample sets the oversampling factor (1, the default, disables
// oversampling; higher values average more histogram buckets per
// output pixel for antialiasing).
func (im *Imager) SetOversample(o uint) error {
	if err := im.Params.SetValue(FieldOversample, params.Uint(uint64(o))); err != nil {
		return err
	}
	im.sizeDirty = true
	return nil
}

// HistSize returns the histogram buffer's dimensions: the output image
// size times the oversampling factor.
func (im *Imager) HistSize() (width, height int) {
	return int(im.width * im.oversample), int(im.height * im.oversample)
}

func (im *Imager) checkDirtyFlags() {
	if im.sizeDirty {
		im.applyGeometry()
		im.histogram = nil
		im.renderDirty = true
		im.sizeDirty = false
	}
}

func (im *Imager) requireHistogram() {
	if im.histogram == nil {
		w, h := im.HistSize()
		im.histogram = make([]uint32, w*h)
		im.clearLocked()
	}
}

// Clear zeroes the histogram buffer and resets the accumulated point
// count, peak density, and render-start timestamp.
func (im *Imager) Clear() {
	im.checkDirtyFlags()
	im.clearLocked()
}

func (im *Imager) clearLocked() {
	for i := range im.histogram {
		im.histogram[i] = 0
	}
	im.renderDirty = true
	im.totalPointsPlotted = 0
	im.peakDensity = 0
	im.renderStart = time.Now()
}

// ElapsedTime returns the duration since the histogram was last
// cleared.
func (im *Imager) ElapsedTime() time.Duration {
	return time.Since(im.renderStart)
}

// PeakDensity returns the highest bucket count seen since the
// histogram was last cleared, the same value the remote protocol's
// calc_status response reports.
func (im *Imager) PeakDensity() uint64 {
	return im.peakDensity
}

// PreparePlots must be called before plotting a batch of points, and
// its result passed to every Plot call in that batch, then to
// FinishPlots once the batch is done.
func (im *Imager) PreparePlots() *Plot {
	im.checkDirtyFlags()
	im.requireHistogram()
	w, _ := im.HistSize()
	return &Plot{hist: im.histogram, width: w}
}

// Plot increments the histogram bucket at (x, y), which must be within
// [0, histWidth) x [0, histHeight) as returned by HistSize.
func (p *Plot) Plot(x, y int) {
	p.count++
	i := x + p.width*y
	p.hist[i]++
	if p.hist[i] > p.density {
		p.density = p.hist[i]
	}
}

// FinishPlots folds a completed batch's statistics back into the
// Imager's running totals.
func (im *Imager) FinishPlots(p *Plot) {
	im.totalPointsPlotted += float64(p.count)
	if uint64(p.density) > im.peakDensity {
		im.peakDensity = uint64(p.density)
	}
}

// PixelScale returns the factor that converts a raw histogram count
// into a luminance in [0, 1]: exposure divided by the average bucket
// density, capped at 0.5 so a severely underexposed first frame
// doesn't invert the color table.
func (im *Imager) PixelScale() float64 {
	if im.totalPointsPlotted == 0 {
		return 0
	}
	w, h := im.HistSize()
	density := im.totalPointsPlotted / float64(w*h)
	fscale := im.Params.MustGet(FieldExposure).F / density
	if fscale > 0.5 {
		fscale = 0.5
	}
	return fscale
}

// maxUsableDensity is the inverse of the color table's mapping: the
// highest histogram count that still produces a visibly different
// color from the one before it, given the current exposure, gamma,
// and clamping settings.
func (im *Imager) maxUsableDensity() uint64 {
	var maxLuma float64
	clamped := im.Params.MustGet(FieldClamped).B
	if clamped {
		maxLuma = 1
	} else {
		fg := im.Params.MustGet(FieldFGColor).Color
		bg := im.Params.MustGet(FieldBGColor).Color
		fgAlpha := float64(im.Params.MustGet(FieldFGAlpha).U)
		bgAlpha := float64(im.Params.MustGet(FieldBGAlpha).U)

		saturate := func(delta int, bg float64) (clamp, maxLuma float64) {
			switch {
			case delta > 0:
				clamp = 255
			case delta < 0:
				clamp = 0
			default:
				return bg, 0
			}
			return clamp, (clamp - bg) / float64(delta)
		}

		_, lr := saturate(int(fg.R)-int(bg.R), float64(bg.R))
		_, lg := saturate(int(fg.G)-int(bg.G), float64(bg.G))
		_, lb := saturate(int(fg.B)-int(bg.B), float64(bg.B))
		_, la := saturate(int(fgAlpha-bgAlpha), bgAlpha)

		for _, l := range []float64{lr, lg, lb, la} {
			if l > maxLuma {
				maxLuma = l
			}
		}
	}

	maxLuma = math.Pow(maxLuma, im.Params.MustGet(FieldGamma).F)
	scale := im.PixelScale()
	var maxUsable float64
	if scale == 0 {
		maxUsable = math.MaxInt32 / 2
	} else {
		maxUsable = maxLuma/scale + 1
	}
	if maxUsable > math.MaxInt32/2 {
		maxUsable = math.MaxInt32 / 2
	}
	return uint64(maxUsable)
}

// generateColorTable rebuilds the count -> color and count -> quality
// tables. If force is false and the table is already the right size,
// it's left alone (ComputeQuality calls it this way so that merely
// checking quality doesn't pay the full regeneration cost every time).
func (im *Imager) generateColorTable(force bool) {
	scale := im.PixelScale()
	usable := im.maxUsableDensity()
	if usable > im.peakDensity {
		usable = im.peakDensity
	}
	size := usable + 1

	if !force && uint64(len(im.colorTable.table)) == size {
		return
	}

	im.colorTable.table = make([]color.RGBA, size)
	im.colorTable.quality = make([]float64, size)

	fg := im.Params.MustGet(FieldFGColor).Color
	bg := im.Params.MustGet(FieldBGColor).Color
	fgAlpha := float64(im.Params.MustGet(FieldFGAlpha).U)
	bgAlpha := float64(im.Params.MustGet(FieldBGAlpha).U)
	clamped := im.Params.MustGet(FieldClamped).B
	invGamma := 1 / im.Params.MustGet(FieldGamma).F

	var distance float64
	var prev color.RGBA
	var prevAlpha float64

	for count := uint64(0); count < size; count++ {
		luma := float64(count) * scale
		luma = math.Pow(luma, invGamma)
		if clamped && luma > 1 {
			luma = 1
		}

		cur := color.RGBA{
			R: clampByte(float64(bg.R)*(1-luma) + float64(fg.R)*luma),
			G: clampByte(float64(bg.G)*(1-luma) + float64(fg.G)*luma),
			B: clampByte(float64(bg.B)*(1-luma) + float64(fg.B)*luma),
			A: clampByte(bgAlpha*(1-luma) + fgAlpha*luma),
		}
		im.colorTable.table[count] = cur

		if count > 0 {
			dr := float64(cur.R) - float64(prev.R)
			dg := float64(cur.G) - float64(prev.G)
			db := float64(cur.B) - float64(prev.B)
			da := float64(cur.A) - prevAlpha
			distance += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
		}
		prev = cur
		prevAlpha = float64(cur.A)

		if distance > 0 {
			im.colorTable.quality[count] = float64(count) / distance
		} else {
			im.colorTable.quality[count] = 0
		}
	}
}

func clampByte(f float64) byte {
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return byte(f)
}

// ComputeQuality returns a convergence metric for the current
// histogram: the average number of histogram samples per
// distinguishable color, sampled on a roughly 256x256 grid. Higher is
// better; 1.0 is a reasonable target, and math.MaxFloat64 signals that
// quality can't be computed yet (an empty or fully saturated
// histogram).
func (im *Imager) ComputeQuality() float64 {
	im.checkDirtyFlags()
	im.requireHistogram()
	im.generateColorTable(false)

	if len(im.colorTable.table) < 1 {
		return math.MaxFloat64
	}
	histClamp := uint32(len(im.colorTable.table) - 1)

	width, height := im.HistSize()
	xScale := width >> 8
	if xScale < 1 {
		xScale = 1
	}
	yScale := height >> 8
	if yScale < 1 {
		yScale = 1
	}

	var numerator float64
	var denominator, numSaturated uint64

	for y := 0; y < height; y += yScale {
		row := y * width
		for x := 0; x < width; x += xScale {
			count := im.histogram[row+x]
			switch {
			case count > histClamp:
				numSaturated++
			case count > 0:
				numerator += im.colorTable.quality[count]
				denominator++
			}
		}
	}

	if denominator == 0 {
		return math.MaxFloat64
	}
	if denominator < numSaturated/100 {
		return math.MaxFloat64
	}
	return numerator / denominator
}

func (im *Imager) requireOversampleTables() {
	const linearBits = 12
	nonlinSize := (1 << linearBits) * im.oversample * im.oversample

	needRealloc := im.oversampleTables.oversample != im.oversample ||
		im.oversampleTables.linearize == nil || im.oversampleTables.nonlinearize == nil
	needRegenerate := im.oversampleTables.gamma != im.Params.MustGet(FieldOversampleGamma).F

	if needRealloc {
		im.oversampleTables.linearize = make([]uint32, 256)
		im.oversampleTables.nonlinearize = make([]byte, nonlinSize)
		im.oversampleTables.oversample = im.oversample
		needRegenerate = true
	}

	if needRegenerate {
		gamma := im.Params.MustGet(FieldOversampleGamma).F
		invGamma := 1 / gamma
		im.oversampleTables.gamma = gamma

		for i := 0; i < 256; i++ {
			im.oversampleTables.linearize[i] = uint32(math.Pow(float64(i)/255.0, gamma)*float64((1<<linearBits)-1) + 0.5)
		}
		n := len(im.oversampleTables.nonlinearize)
		for i := 0; i < n; i++ {
			im.oversampleTables.nonlinearize[i] = byte(math.Pow(float64(i)/float64(n-1), invGamma)*255 + 0.5)
		}
	}
}

// Image renders the current histogram to an *image.RGBA, regenerating
// the color table and (if oversampling is enabled) tone-mapping
// multiple histogram buckets into each output pixel.
func (im *Imager) Image() *image.RGBA {
	im.checkDirtyFlags()
	im.requireHistogram()
	im.generateColorTable(true)

	img := image.NewRGBA(image.Rect(0, 0, int(im.width), int(im.height)))
	histClamp := uint32(len(im.colorTable.table) - 1)

	if im.oversample > 1 {
		im.requireOversampleTables()
		linearize := im.oversampleTables.linearize
		nonlinearize := im.oversampleTables.nonlinearize
		histWidth := int(im.width * im.oversample)

		for y := 0; y < int(im.height); y++ {
			for x := 0; x < int(im.width); x++ {
				var r, g, b, a uint32
				for sy := 0; sy < int(im.oversample); sy++ {
					rowBase := (y*int(im.oversample)+sy)*histWidth + x*int(im.oversample)
					for sx := 0; sx < int(im.oversample); sx++ {
						count := im.histogram[rowBase+sx]
						var c color.RGBA
						if count > histClamp {
							c = im.colorTable.table[histClamp]
						} else {
							c = im.colorTable.table[count]
						}
						r += linearize[c.R]
						g += linearize[c.G]
						b += linearize[c.B]
						a += linearize[c.A]
					}
				}
				img.SetRGBA(x, y, color.RGBA{
					R: nonlinearize[r],
					G: nonlinearize[g],
					B: nonlinearize[b],
					A: nonlinearize[a],
				})
			}
		}
		return img
	}

	for y := 0; y < int(im.height); y++ {
		rowBase := y * int(im.width)
		for x := 0; x < int(im.width); x++ {
			count := im.histogram[rowBase+x]
			var c color.RGBA
			if count > histClamp {
				c = im.colorTable.table[histClamp]
			} else {
				c = im.colorTable.table[count]
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// ExportStream encodes and empties every non-zero histogram bucket as
// a run-length stream of var-ints: a value with its low bit clear is a
// run of empty buckets to skip, one with its low bit set is a count to
// add to the current bucket before moving on. w stops receiving data,
// and the remaining buckets stay in the histogram, if a write fails.
func (im *Imager) ExportStream(w io.Writer) (int, error) {
	im.checkDirtyFlags()
	im.requireHistogram()

	var written int
	var skipped uint32

	flushSkip := func() error {
		if skipped == 0 {
			return nil
		}
		n, err := varint.Write(w, skipped<<1)
		written += n
		skipped = 0
		return err
	}

	for i, bucket := range im.histogram {
		if bucket == 0 {
			skipped++
			continue
		}
		if err := flushSkip(); err != nil {
			return written, errors.Wrap(err, "histogram: export stream")
		}
		n, err := varint.Write(w, (bucket<<1)|1)
		written += n
		if err != nil {
			return written, errors.Wrap(err, "histogram: export stream")
		}
		im.histogram[i] = 0
	}
	return written, nil
}

// byteReader adapts an io.Reader lacking ReadByte, matching the
// pattern varint.Read expects.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(b.r, b.buf[:])
	return b.buf[0], err
}

// MergeStream decodes a stream produced by ExportStream (possibly by a
// different machine entirely; the format is architecture-independent)
// and adds its counts into the histogram, treating the merge as one
// plot batch for the Imager's running statistics.
func (im *Imager) MergeStream(r io.Reader) error {
	plot := im.PreparePlots()
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	pos := 0
	total := len(plot.hist)
	for pos < total {
		token, _, err := varint.Read(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "histogram: merge stream")
		}

		if token&1 != 0 {
			run := token >> 1
			plot.hist[pos] += run
			if plot.hist[pos] > plot.density {
				plot.density = plot.hist[pos]
			}
			plot.count += uint64(run)
			pos++
		} else {
			pos += int(token >> 1)
		}
	}

	im.FinishPlots(plot)
	return nil
}

// ApplyParams replaces the Imager's parameter holder outright (as
// produced by Params.Clone(), or by a fresh Holder loaded from a saved
// string) and marks geometry dirty so the next PreparePlots/Image call
// re-derives width/height/oversample from the new values.
func (im *Imager) ApplyParams(h *params.Holder) {
	im.Params = h
	im.sizeDirty = true
}

// LoadMetadata loads a saved parameter string (as embedded by a
// chunked animation file or a PNG tEXt chunk) into the imager's own
// fields. It returns fyreerr.ErrNoMetadata if paramString is empty.
func (im *Imager) LoadMetadata(paramString string) error {
	if paramString == "" {
		return fyreerr.ErrNoMetadata
	}
	im.sizeDirty = true
	return im.Params.LoadString(paramString)
}
