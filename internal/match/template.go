package match

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Template is a reference image prepared for matching.
type Template struct {
	Path  string
	Scale float64
	RGBA  *image.RGBA
	Gray  *Plane

	sum   float64
	sumSq float64
}

// NewTemplate prepares img for matching. path is carried into candidates.
func NewTemplate(path string, img image.Image) (*Template, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.Newf(apperrors.CodeReferenceUnavailable, "empty reference image %s", path).
			WithMetadata("path", path)
	}
	rgba := ToRGBA(img)
	return newTemplate(path, 1.0, rgba), nil
}

func newTemplate(path string, scale float64, rgba *image.RGBA) *Template {
	gray := GrayPlane(rgba)
	return &Template{
		Path:  path,
		Scale: scale,
		RGBA:  rgba,
		Gray:  gray,
		sum:   floats.Sum(gray.Pix),
		sumSq: floats.Dot(gray.Pix, gray.Pix),
	}
}

// Size returns the template dimensions.
func (t *Template) Size() image.Point { return image.Pt(t.Gray.W, t.Gray.H) }

// Scaled returns the template resized by factor, or nil if the result would
// have no pixels.
func (t *Template) Scaled(factor float64) *Template {
	if factor == 1 {
		return t
	}
	w := int(math.Round(float64(t.Gray.W) * factor))
	h := int(math.Round(float64(t.Gray.H) * factor))
	if w < 1 || h < 1 {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	var interp xdraw.Interpolator = xdraw.CatmullRom
	if factor < 1 {
		interp = xdraw.ApproxBiLinear
	}
	interp.Scale(dst, dst.Bounds(), t.RGBA, t.RGBA.Bounds(), xdraw.Src, nil)
	return newTemplate(t.Path, t.Scale*factor, dst)
}

// Frame is a screenshot converted once to the working representations and
// reused across templates.
type Frame struct {
	RGBA *image.RGBA
	Gray *Plane

	ig *integral
}

// NewFrame prepares a screenshot for matching.
func NewFrame(img image.Image) *Frame {
	rgba := ToRGBA(img)
	return &Frame{RGBA: rgba, Gray: GrayPlane(rgba)}
}

// Size returns the frame dimensions.
func (f *Frame) Size() image.Point { return image.Pt(f.Gray.W, f.Gray.H) }

// Fits reports whether a template of size sz can be placed inside the frame.
func (f *Frame) Fits(sz image.Point) bool {
	return sz.X >= 1 && sz.Y >= 1 && sz.X <= f.Gray.W && sz.Y <= f.Gray.H
}

func (f *Frame) integral() *integral {
	if f.ig == nil {
		f.ig = newIntegral(f.Gray)
	}
	return f.ig
}
