package match

import (
	"image"
	"image/draw"
)

// Plane is a single-channel float image, row-major, values in [0,255].
type Plane struct {
	W, H int
	Pix  []float64
}

// At returns the value at (x, y).
func (p *Plane) At(x, y int) float64 { return p.Pix[y*p.W+x] }

// Row returns row y.
func (p *Plane) Row(y int) []float64 { return p.Pix[y*p.W : (y+1)*p.W] }

// ToRGBA returns img as a tightly packed *image.RGBA with origin (0,0).
// An *image.RGBA that already satisfies this is returned unchanged.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// GrayPlane converts an RGBA image to luminance using BT.601 weights.
func GrayPlane(img *image.RGBA) *Plane {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	p := &Plane{W: w, H: h, Pix: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+4*w]
		dst := p.Pix[y*w : (y+1)*w]
		for x := range dst {
			i := 4 * x
			dst[x] = 0.299*float64(src[i]) + 0.587*float64(src[i+1]) + 0.114*float64(src[i+2])
		}
	}
	return p
}

// integral holds summed-area tables of a plane and its squares.
// Tables are (W+1)x(H+1) with a zero first row and column.
type integral struct {
	w, h  int
	sum   []float64
	sumSq []float64
}

func newIntegral(p *Plane) *integral {
	stride := p.W + 1
	ig := &integral{
		w:     p.W,
		h:     p.H,
		sum:   make([]float64, stride*(p.H+1)),
		sumSq: make([]float64, stride*(p.H+1)),
	}
	for y := 0; y < p.H; y++ {
		var rowSum, rowSq float64
		row := p.Row(y)
		for x, v := range row {
			rowSum += v
			rowSq += v * v
			i := (y+1)*stride + x + 1
			ig.sum[i] = ig.sum[i-stride] + rowSum
			ig.sumSq[i] = ig.sumSq[i-stride] + rowSq
		}
	}
	return ig
}

// window returns the sum and squared sum of the w x h window at (x, y).
func (ig *integral) window(x, y, w, h int) (float64, float64) {
	stride := ig.w + 1
	a := y*stride + x
	b := a + w
	c := (y+h)*stride + x
	d := c + w
	return ig.sum[d] - ig.sum[b] - ig.sum[c] + ig.sum[a],
		ig.sumSq[d] - ig.sumSq[b] - ig.sumSq[c] + ig.sumSq[a]
}
