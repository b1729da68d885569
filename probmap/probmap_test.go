package probmap

import (
	"image"
	"image/color"
	"testing"

	"github.com/davidt/fyre/rng"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestIntsStaysInBounds(t *testing.T) {
	img := solidImage(8, 8, color.White)
	m := New(img, ChannelLuma, rng.New(1))

	for i := 0; i < 1000; i++ {
		x, y := m.Ints()
		if x >= uint(m.Width()) || y >= uint(m.Height()) {
			t.Fatalf("Ints() = (%d, %d), out of bounds for %dx%d image", x, y, m.Width(), m.Height())
		}
	}
}

func TestIntsConcentratesOnBrightRegion(t *testing.T) {
	img := solidImage(16, 16, color.Black)
	// Make the right half much brighter.
	for y := 0; y < 16; y++ {
		for x := 8; x < 16; x++ {
			img.Set(x, y, color.White)
		}
	}
	m := New(img, ChannelLuma, rng.New(2))

	var rightCount int
	const trials = 2000
	for i := 0; i < trials; i++ {
		x, _ := m.Ints()
		if x >= 8 {
			rightCount++
		}
	}

	if rightCount < trials*9/10 {
		t.Errorf("right half (bright) got %d/%d samples, want >= 90%%", rightCount, trials)
	}
}

func TestUniformAndGaussianStayNearNormalized(t *testing.T) {
	img := solidImage(32, 32, color.White)
	m := New(img, ChannelLuma, rng.New(3))

	for i := 0; i < 100; i++ {
		nx, ny := m.Normalized()
		ux, uy := m.Uniform()
		if ux < -0.1 || ux > 1.1 || uy < -0.1 || uy > 1.1 {
			t.Errorf("Uniform() = (%v, %v), want roughly in [0,1]", ux, uy)
		}
		_ = nx
		_ = ny

		gx, gy := m.Gaussian(0.01)
		if gx < -1 || gx > 2 || gy < -1 || gy > 2 {
			t.Errorf("Gaussian() = (%v, %v), want roughly in [0,1] for small radius", gx, gy)
		}
	}
}

func TestChannelSelection(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{G: 255, A: 255})
	img.Set(2, 0, color.RGBA{B: 255, A: 255})
	img.Set(3, 0, color.RGBA{A: 0})

	m := New(img, ChannelRed, rng.New(4))
	if m.cumulative[0] == 0 {
		t.Error("red channel map should give pixel 0 nonzero mass")
	}
	if m.cumulative[1] != m.cumulative[0] {
		t.Error("red channel map should give pixel 1 (pure green) zero additional mass")
	}
}
