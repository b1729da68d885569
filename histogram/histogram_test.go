package histogram

import (
	"bytes"
	"math"
	"testing"
)

func TestPlotAndPixelScale(t *testing.T) {
	im := New()
	if err := im.Resize(16, 16); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	plot := im.PreparePlots()
	w, h := im.HistSize()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plot.Plot(x, y)
		}
	}
	im.FinishPlots(plot)

	scale := im.PixelScale()
	if scale <= 0 || scale > 0.5 {
		t.Errorf("PixelScale() = %v, want in (0, 0.5]", scale)
	}
}

func TestImageProducesCorrectDimensions(t *testing.T) {
	im := New()
	if err := im.Resize(20, 10); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	plot := im.PreparePlots()
	plot.Plot(0, 0)
	im.FinishPlots(plot)

	img := im.Image()
	b := img.Bounds()
	if b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("Image() bounds = %v, want 20x10", b)
	}
}

func TestComputeQualityEmptyHistogramIsMax(t *testing.T) {
	im := New()
	if err := im.Resize(8, 8); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if q := im.ComputeQuality(); q != math.MaxFloat64 {
		t.Errorf("ComputeQuality() on empty histogram = %v, want MaxFloat64", q)
	}
}

func TestComputeQualityImprovesWithMoreSamples(t *testing.T) {
	im := New()
	if err := im.Resize(32, 32); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	plotOnce := func(n int) {
		plot := im.PreparePlots()
		w, h := im.HistSize()
		for i := 0; i < n; i++ {
			plot.Plot(i%w, (i/w)%h)
		}
		im.FinishPlots(plot)
	}

	plotOnce(50)
	q1 := im.ComputeQuality()
	plotOnce(5000)
	q2 := im.ComputeQuality()

	if q2 <= q1 {
		t.Errorf("quality did not improve with more samples: q1=%v q2=%v", q1, q2)
	}
}

func TestExportMergeStreamRoundTrip(t *testing.T) {
	src := New()
	if err := src.Resize(12, 12); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	plot := src.PreparePlots()
	w, h := src.HistSize()
	for i := 0; i < w*h; i += 3 {
		plot.Plot(i%w, i/w%h)
		plot.Plot(i%w, i/w%h)
	}
	src.FinishPlots(plot)

	// Snapshot before exporting, since ExportStream empties the source.
	want := append([]uint32(nil), src.histogram...)

	var buf bytes.Buffer
	if _, err := src.ExportStream(&buf); err != nil {
		t.Fatalf("ExportStream: %v", err)
	}
	for _, v := range src.histogram {
		if v != 0 {
			t.Fatalf("ExportStream did not empty the histogram")
		}
	}

	dst := New()
	if err := dst.Resize(12, 12); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	dst.PreparePlots() // allocate dst.histogram before merging
	if err := dst.MergeStream(&buf); err != nil {
		t.Fatalf("MergeStream: %v", err)
	}

	for i := range want {
		if dst.histogram[i] != want[i] {
			t.Fatalf("bucket %d = %d, want %d", i, dst.histogram[i], want[i])
		}
	}
}

func TestLoadMetadataEmptyIsError(t *testing.T) {
	im := New()
	if err := im.LoadMetadata(""); err == nil {
		t.Error("LoadMetadata(\"\") should return an error")
	}
}
