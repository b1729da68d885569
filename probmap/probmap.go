// Package probmap implements a 2-D random variable whose probability
// distribution is defined by an image: brighter pixels (in whichever
// channel the caller picks) are sampled more often. It's grounded on
// the source image metaphor of providing initial points or trajectory
// biasing data for a chaotic map from an arbitrary picture.
package probmap

import (
	"image"
	"image/color"
	"sort"

	"github.com/davidt/fyre/rng"
)

// Channel selects which component of each source pixel contributes to
// the probability distribution.
type Channel int

const (
	ChannelLuma Channel = iota
	ChannelRed
	ChannelGreen
	ChannelBlue
	ChannelAlpha
)

// Map is a 2-D cumulative distribution built from an image, supporting
// several ways of drawing a random point from it: on pixel boundaries,
// normalized to [0, 1], with uniform per-pixel jitter, or with
// Gaussian jitter.
type Map struct {
	cumulative []float32
	width      int
	height     int

	imageScaleX, imageScaleY float64

	rng *rng.Source
}

// New builds a Map from img's given channel. Brighter pixels (higher
// channel value) receive proportionally more probability mass.
func New(img image.Image, channel Channel, r *rng.Source) *Map {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	cumulative := make([]float32, width*height)
	var sum float64
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += channelValue(img.At(x, y), channel)
			cumulative[i] = float32(sum)
			i++
		}
	}

	scaleX, scaleY := 1.0, 1.0
	if width > 1 {
		scaleX = 1.0 / float64(width-1)
	}
	if height > 1 {
		scaleY = 1.0 / float64(height-1)
	}

	return &Map{
		cumulative:  cumulative,
		width:       width,
		height:      height,
		imageScaleX: scaleX,
		imageScaleY: scaleY,
		rng:         r,
	}
}

func channelValue(c color.Color, ch Channel) float64 {
	switch ch {
	case ChannelRed:
		r, _, _, _ := c.RGBA()
		return float64(r >> 8)
	case ChannelGreen:
		_, g, _, _ := c.RGBA()
		return float64(g >> 8)
	case ChannelBlue:
		_, _, b, _ := c.RGBA()
		return float64(b >> 8)
	case ChannelAlpha:
		_, _, _, a := c.RGBA()
		return float64(a >> 8)
	default: // ChannelLuma
		gray := color.GrayModel.Convert(c).(color.Gray)
		return float64(gray.Y)
	}
}

// Width and Height return the source image's dimensions.
func (m *Map) Width() int  { return m.width }
func (m *Map) Height() int { return m.height }

// Ints draws a random pixel coordinate, weighted by the distribution.
// It finds the leftmost cumulative-sum bucket at or above a uniform
// key scaled to the distribution's total mass, the same semantics as
// probability_map_ints's hand-rolled binary search (guaranteeing that
// a run of equal cumulative values, meaning zero-probability pixels,
// only ever resolves to the first of the run).
func (m *Map) Ints() (x, y uint) {
	if len(m.cumulative) == 0 {
		return 0, 0
	}
	total := m.cumulative[len(m.cumulative)-1]
	key := float32(m.rng.Uniform()) * total

	idx := sort.Search(len(m.cumulative), func(i int) bool {
		return m.cumulative[i] >= key
	})
	if idx >= len(m.cumulative) {
		idx = len(m.cumulative) - 1
	}

	return uint(idx) % uint(m.width), uint(idx) / uint(m.width)
}

// Normalized draws a random point on pixel boundaries, scaled to
// [0, 1] x [0, 1] (the last pixel column and row map to 1).
func (m *Map) Normalized() (x, y float64) {
	xi, yi := m.Ints()
	return float64(xi) * m.imageScaleX, float64(yi) * m.imageScaleY
}

// Uniform draws a random point treating each pixel as a small square
// uniform distribution, smoothing out the pixel grid.
func (m *Map) Uniform() (x, y float64) {
	x, y = m.Normalized()
	x += m.rng.Uniform() * m.imageScaleX
	y += m.rng.Uniform() * m.imageScaleY
	return x, y
}

// Gaussian draws a random point treating each pixel as the center of a
// small Gaussian distribution with the given standard deviation,
// expressed as a multiple of one pixel's size.
func (m *Map) Gaussian(radius float64) (x, y float64) {
	x, y = m.Normalized()
	a, b := m.rng.NormalPair()
	x += a * m.imageScaleX * radius
	y += b * m.imageScaleY * radius
	return x, y
}
