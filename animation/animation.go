// Package animation implements Fyre's keyframe animation system: an
// ordered list of keyframes, each holding a saved parameter snapshot,
// a transition duration, and an interpolation spline, plus a
// time-seeking iterator used to extract in-between parameter sets for
// rendering. Animations persist through package chunkedfile, the same
// chunk format the teacher's container types use for framing.
package animation

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/davidt/fyre/chunkedfile"
	"github.com/davidt/fyre/dejong"
	"github.com/davidt/fyre/fyrelog"
	"github.com/davidt/fyre/spline"
)

// File signatures, current and legacy. Animations are never written
// with the legacy signature, only read for backward compatibility.
const (
	FileSignature       = "Fyre Animation\n\r\xFF\n"
	LegacyFileSignature = "de Jong Explorer Animation\n\r\xFF\n"
)

// Chunk types. The legacy de-jong-prefixed tags are accepted on read
// but never written.
var (
	chunkKeyframeStart   = chunkedfile.NewType("KfrS")
	chunkKeyframeEnd     = chunkedfile.NewType("KfrE")
	chunkParams          = chunkedfile.NewType("fyPR")
	chunkThumbnail       = chunkedfile.NewType("fyTp")
	chunkSpline          = chunkedfile.NewType("splC")
	chunkDuration        = chunkedfile.NewType("dura")
	chunkLegacyParams    = chunkedfile.NewType("djPR")
	chunkLegacyThumbnail = chunkedfile.NewType("djTp")
)

// DefaultDuration is the transition length, in seconds, a freshly
// appended keyframe starts with.
const DefaultDuration = 5.0

// Keyframe is one stored point in an animation: a parameter snapshot,
// an optional thumbnail, the duration of the transition that follows
// it, and the spline that shapes that transition's interpolation
// curve.
type Keyframe struct {
	Params    string
	Thumbnail *image.RGBA
	Duration  float64
	Spline    *spline.Spline

	id uint64
}

// Animation is an ordered list of keyframes.
type Animation struct {
	keyframes []Keyframe
	nextID    uint64
}

// New returns an empty animation.
func New() *Animation {
	return &Animation{}
}

// Clear removes every keyframe.
func (a *Animation) Clear() {
	a.keyframes = nil
}

// Len returns the number of keyframes.
func (a *Animation) Len() int { return len(a.keyframes) }

// Keyframe returns a pointer to keyframe i, allowing in-place edits of
// its duration or spline.
func (a *Animation) Keyframe(i int) *Keyframe { return &a.keyframes[i] }

// KeyframeID returns keyframe i's stable identifier, assigned when it
// was appended and unaffected by later insertions or removals
// elsewhere in the list.
func (a *Animation) KeyframeID(i int) uint64 { return a.keyframes[i].id }

// KeyframeFindByID returns the index of the keyframe with the given
// id, and whether one was found.
func (a *Animation) KeyframeFindByID(id uint64) (int, bool) {
	for i := range a.keyframes {
		if a.keyframes[i].id == id {
			return i, true
		}
	}
	return 0, false
}

// KeyframeAppend appends a new keyframe capturing snap's current
// parameters, with the default duration and a smooth transition
// spline. It returns the new keyframe's index.
func (a *Animation) KeyframeAppend(snap *dejong.Snapshot, thumbnail *image.RGBA) int {
	kf := Keyframe{
		Params:    snap.SaveString(),
		Thumbnail: thumbnail,
		Duration:  DefaultDuration,
		Spline:    spline.Smooth(),
		id:        a.nextID,
	}
	a.nextID++
	a.keyframes = append(a.keyframes, kf)
	return len(a.keyframes) - 1
}

// KeyframeGetTime returns the absolute time, in seconds, at which
// keyframe i begins.
func (a *Animation) KeyframeGetTime(i int) float64 {
	var total float64
	for j := 0; j < i && j < len(a.keyframes); j++ {
		total += a.keyframes[j].Duration
	}
	return total
}

// GetLength returns the animation's total duration in seconds: the
// sum of every keyframe's transition duration.
func (a *Animation) GetLength() float64 {
	var total float64
	for _, kf := range a.keyframes {
		total += kf.Duration
	}
	return total
}

// Iter walks an animation by wall-clock time, tracking the current
// keyframe and the time elapsed since it began.
type Iter struct {
	index             int
	valid             bool
	timeAfterKeyframe float64
}

// Valid reports whether it still refers to a keyframe.
func (it *Iter) Valid() bool { return it.valid }

// IterFirst returns an iterator at the beginning of the animation.
func (a *Animation) IterFirst() *Iter {
	return &Iter{valid: len(a.keyframes) > 0}
}

// IterSeek returns an iterator positioned at absoluteTime seconds from
// the start of the animation.
func (a *Animation) IterSeek(absoluteTime float64) *Iter {
	it := a.IterFirst()
	a.IterSeekRelative(it, absoluteTime)
	return it
}

// IterSeekRelative moves it forward or backward by delta seconds. A
// negative delta that would move it before the first keyframe
// restarts the walk from the beginning rather than truly stepping
// backward, since a keyframe list (like the original's GtkTreeModel)
// has no reverse iterator.
func (a *Animation) IterSeekRelative(it *Iter, delta float64) {
	it.timeAfterKeyframe += delta

	for it.valid {
		kf := a.keyframes[it.index]
		switch {
		case it.timeAfterKeyframe >= kf.Duration:
			it.index++
			it.timeAfterKeyframe -= kf.Duration
			it.valid = it.index < len(a.keyframes)
		case it.timeAfterKeyframe < 0:
			absoluteTime := a.KeyframeGetTime(it.index) + it.timeAfterKeyframe
			it.index = 0
			it.timeAfterKeyframe = 0
			if absoluteTime > 0 {
				it.timeAfterKeyframe = absoluteTime
			}
			it.valid = len(a.keyframes) > 0
		default:
			return
		}
	}
}

// IterLoad interpolates the parameters at it's current position into
// dst: the keyframe at it.index and the one following it are parsed,
// the transition's spline remaps the linear alpha between them, and
// dst.InterpolateFrom blends the two at the remapped alpha. If it is
// on the last keyframe, dst is simply set to that keyframe's
// parameters with no blending.
func (a *Animation) IterLoad(it *Iter, dst *dejong.Map) error {
	if !it.valid {
		return errors.New("animation: iterator is not valid")
	}

	kf := a.keyframes[it.index]
	first, err := dejong.ParseSnapshot(kf.Params)
	if err != nil {
		return errors.Wrap(err, "animation: parse keyframe params")
	}

	if it.index+1 >= len(a.keyframes) {
		dst.Apply(first)
		return nil
	}

	second, err := dejong.ParseSnapshot(a.keyframes[it.index+1].Params)
	if err != nil {
		return errors.Wrap(err, "animation: parse next keyframe params")
	}

	alpha := it.timeAfterKeyframe / kf.Duration
	if kf.Spline != nil {
		alpha = kf.Spline.SolveAndEval(alpha)
	}
	dst.InterpolateFrom(alpha, first, second)
	return nil
}

// IterReadFrame retrieves one rendering frame's start and end
// parameter sets, advancing it by 1/frameRate seconds, and reports
// whether a frame was retrieved (false at the end of the animation).
func (a *Animation) IterReadFrame(it *Iter, start, end *dejong.Map, frameRate float64) (bool, error) {
	if !it.valid {
		return false, nil
	}
	if err := a.IterLoad(it, start); err != nil {
		return false, err
	}

	a.IterSeekRelative(it, 1/frameRate)

	if !it.valid {
		return false, nil
	}
	if err := a.IterLoad(it, end); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the animation to w as a chunked file.
func (a *Animation) Save(w io.Writer) error {
	if err := chunkedfile.WriteSignature(w, FileSignature); err != nil {
		return err
	}
	cw := chunkedfile.NewWriter(w)

	for _, kf := range a.keyframes {
		if err := cw.WriteChunk(chunkKeyframeStart, nil); err != nil {
			return err
		}
		if kf.Params != "" {
			if err := cw.WriteChunk(chunkParams, []byte(kf.Params)); err != nil {
				return err
			}
		}
		if kf.Thumbnail != nil {
			data, err := encodeThumbnail(kf.Thumbnail)
			if err != nil {
				return errors.Wrap(err, "animation: encode thumbnail")
			}
			if err := cw.WriteChunk(chunkThumbnail, data); err != nil {
				return err
			}
		}

		var durBuf [8]byte
		binary.BigEndian.PutUint64(durBuf[:], math.Float64bits(kf.Duration))
		if err := cw.WriteChunk(chunkDuration, durBuf[:]); err != nil {
			return err
		}

		if kf.Spline != nil {
			if err := cw.WriteChunk(chunkSpline, kf.Spline.Serialize()); err != nil {
				return err
			}
		}

		if err := cw.WriteChunk(chunkKeyframeEnd, nil); err != nil {
			return err
		}
	}
	return nil
}

func encodeThumbnail(img *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads an animation from r, replacing the current contents. It
// accepts both the current signature and the legacy de Jong Explorer
// one.
func (a *Animation) Load(r io.Reader, log fyrelog.Logger) error {
	ok, err := chunkedfile.ReadSignature(r, FileSignature, LegacyFileSignature)
	if err != nil {
		return errors.Wrap(err, "animation: read signature")
	}
	if !ok {
		return errors.New("animation: unrecognized file signature")
	}

	a.Clear()
	cr := chunkedfile.NewReader(r, log)

	var cur *Keyframe
	return cr.ReadAll(func(c chunkedfile.Chunk) error {
		switch c.Type {
		case chunkKeyframeStart:
			a.keyframes = append(a.keyframes, Keyframe{
				Duration: DefaultDuration,
				Spline:   spline.Smooth(),
				id:       a.nextID,
			})
			a.nextID++
			cur = &a.keyframes[len(a.keyframes)-1]

		case chunkKeyframeEnd:
			cur = nil

		case chunkParams, chunkLegacyParams:
			if cur != nil {
				cur.Params = string(c.Data)
			}

		case chunkThumbnail, chunkLegacyThumbnail:
			if cur != nil {
				img, err := png.Decode(bytes.NewReader(c.Data))
				if err == nil {
					cur.Thumbnail = toRGBA(img)
				}
			}

		case chunkDuration:
			if cur != nil && len(c.Data) == 8 {
				cur.Duration = math.Float64frombits(binary.BigEndian.Uint64(c.Data))
			}

		case chunkSpline:
			if cur != nil {
				cur.Spline = spline.Unserialize(c.Data)
			}
		}
		return nil
	})
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}
