package match

import "image"

// Native runs a single whole-frame color search for tpl and returns the best
// location whose score clears max(minScore, NativeMinScore).
//
// The score is 1 minus the mean absolute RGB difference over the template,
// normalized to [0,1]. Positions are abandoned as soon as their accumulated
// difference exceeds what the threshold allows, which makes near-exact
// searches cheap.
func (m *Matcher) Native(f *Frame, tpl *Template, minScore float64) (Candidate, bool) {
	sz := tpl.Size()
	if !f.Fits(sz) {
		return Candidate{}, false
	}
	threshold := max(minScore, m.opts.NativeMinScore)
	if threshold > 1 {
		threshold = 1
	}

	n := sz.X * sz.Y
	full := float64(255 * 3 * n)
	budget := int64((1 - threshold) * full)

	src, t := f.RGBA, tpl.RGBA
	rowBytes := 4 * sz.X
	bestDiff := budget + 1
	var bestAt image.Point

	for y := 0; y+sz.Y <= f.Gray.H; y++ {
		for x := 0; x+sz.X <= f.Gray.W; x++ {
			limit := min(budget, bestDiff-1)
			var diff int64
			for ty := 0; ty < sz.Y && diff <= limit; ty++ {
				so := (y+ty)*src.Stride + 4*x
				to := ty * t.Stride
				srow := src.Pix[so : so+rowBytes]
				trow := t.Pix[to : to+rowBytes]
				for i := 0; i < rowBytes; i += 4 {
					diff += absDiff(srow[i], trow[i]) + absDiff(srow[i+1], trow[i+1]) + absDiff(srow[i+2], trow[i+2])
				}
			}
			if diff <= limit {
				bestDiff = diff
				bestAt = image.Pt(x, y)
				if diff == 0 {
					return m.nativeCandidate(tpl, bestAt, 1), true
				}
			}
		}
	}
	if bestDiff > budget {
		return Candidate{}, false
	}
	return m.nativeCandidate(tpl, bestAt, 1-float64(bestDiff)/full), true
}

func (m *Matcher) nativeCandidate(tpl *Template, at image.Point, score float64) Candidate {
	return Candidate{
		Location: image.Rectangle{Min: at, Max: at.Add(tpl.Size())},
		Score:    score,
		Method:   MethodNative,
		Template: tpl.Path,
		Scale:    tpl.Scale,
	}
}

func absDiff(a, b uint8) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}
