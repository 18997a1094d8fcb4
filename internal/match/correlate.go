package match

import (
	"context"
	"image"
	"math"
	"sort"
)

// crossMap holds sum(T*I) for every placement of a template in a frame.
type crossMap struct {
	w, h int // placements per axis
	v    []float64
}

// crossCorrelate computes the raw cross term for every placement. It is the
// expensive part shared by all correlation methods.
func crossCorrelate(ctx context.Context, f *Frame, tpl *Template) (*crossMap, bool) {
	tw, th := tpl.Gray.W, tpl.Gray.H
	cw, ch := f.Gray.W-tw+1, f.Gray.H-th+1
	cm := &crossMap{w: cw, h: ch, v: make([]float64, cw*ch)}

	for y := 0; y < ch; y++ {
		if y%64 == 0 && ctx.Err() != nil {
			return nil, false
		}
		out := cm.v[y*cw : (y+1)*cw]
		for ty := 0; ty < th; ty++ {
			trow := tpl.Gray.Row(ty)
			frow := f.Gray.Row(y + ty)
			for x := range out {
				win := frow[x : x+tw]
				var s float64
				for i, tv := range trow {
					s += tv * win[i]
				}
				out[x] += s
			}
		}
	}
	return cm, true
}

// scoreAt converts the cross term at one placement into a [0,1] score.
func scoreAt(method Method, n, cross, sumT, sqT, sumI, sqI float64) float64 {
	switch method {
	case MethodCCoeffNormed:
		varT := sqT - sumT*sumT/n
		varI := sqI - sumI*sumI/n
		flatT, flatI := varT <= flatVariance*n, varI <= flatVariance*n
		switch {
		case flatT && flatI:
			return clamp01(1 - math.Abs(sumT-sumI)/(255*n))
		case flatT || flatI:
			return 0
		}
		return clamp01((cross - sumT*sumI/n) / math.Sqrt(varT*varI))
	case MethodCCorrNormed:
		den := math.Sqrt(sqT * sqI)
		if den == 0 {
			if sqT == 0 && sqI == 0 {
				return 1
			}
			return 0
		}
		return clamp01(cross / den)
	case MethodSqDiffNormed:
		den := math.Sqrt(sqT * sqI)
		if den == 0 {
			if sqT == 0 && sqI == 0 {
				return 1
			}
			return 0
		}
		d := (sqT - 2*cross + sqI) / den
		return clamp01(1 - d)
	}
	return 0
}

// Correlate runs every configured correlation method for tpl at its current
// scale and returns all local peaks clearing minScore, after non-maximum
// suppression. Cancellation is honoured between methods and while building
// the cross term; whatever was collected so far is returned.
func (m *Matcher) Correlate(ctx context.Context, f *Frame, tpl *Template, minScore float64) []Candidate {
	if !f.Fits(tpl.Size()) {
		return nil
	}
	cm, ok := crossCorrelate(ctx, f, tpl)
	if !ok {
		return nil
	}

	var out []Candidate
	for _, method := range m.opts.Methods {
		if ctx.Err() != nil {
			break
		}
		out = append(out, m.peaks(f, tpl, cm, method, minScore)...)
	}
	return out
}

// peaks scores every placement for one method and keeps local maxima.
func (m *Matcher) peaks(f *Frame, tpl *Template, cm *crossMap, method Method, minScore float64) []Candidate {
	ig := f.integral()
	tw, th := tpl.Gray.W, tpl.Gray.H
	n := float64(tw * th)

	scores := make([]float64, len(cm.v))
	for y := 0; y < cm.h; y++ {
		for x := 0; x < cm.w; x++ {
			sumI, sqI := ig.window(x, y, tw, th)
			i := y*cm.w + x
			scores[i] = scoreAt(method, n, cm.v[i], tpl.sum, tpl.sumSq, sumI, sqI)
		}
	}

	var hits []Candidate
	for y := 0; y < cm.h; y++ {
		for x := 0; x < cm.w; x++ {
			s := scores[y*cm.w+x]
			if s < minScore || !isPeak(scores, cm.w, cm.h, x, y) {
				continue
			}
			at := image.Pt(x, y)
			hits = append(hits, Candidate{
				Location: image.Rectangle{Min: at, Max: at.Add(tpl.Size())},
				Score:    s,
				Method:   method,
				Template: tpl.Path,
				Scale:    tpl.Scale,
			})
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return suppress(hits, m.opts.OverlapIoU, m.opts.MaxCandidates)
}

// isPeak reports whether no 8-neighbour scores higher than (x, y).
func isPeak(scores []float64, w, h, x, y int) bool {
	s := scores[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		ny := y + dy
		if ny < 0 || ny >= h {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			nx := x + dx
			if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
				continue
			}
			if scores[ny*w+nx] > s {
				return false
			}
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
