package match

import (
	"image"
	"sort"
)

// Method tags the strategy that produced a candidate.
type Method string

const (
	MethodNative       Method = "native"
	MethodCCoeffNormed Method = "ccoeff_normed"
	MethodCCorrNormed  Method = "ccorr_normed"
	MethodSqDiffNormed Method = "sqdiff_normed"
)

// priority orders methods for tie-breaking; lower wins.
func (m Method) priority() int {
	switch m {
	case MethodNative:
		return 0
	case MethodCCoeffNormed:
		return 1
	case MethodCCorrNormed:
		return 2
	case MethodSqDiffNormed:
		return 3
	default:
		return 4
	}
}

// Valid reports whether m names a correlation method.
func (m Method) Valid() bool {
	switch m {
	case MethodCCoeffNormed, MethodCCorrNormed, MethodSqDiffNormed:
		return true
	}
	return false
}

// Candidate is one scored location hypothesis. Location is relative to the
// frame it was found in.
type Candidate struct {
	Location image.Rectangle
	Score    float64
	Method   Method
	Template string
	Scale    float64

	// Seq is the order in which candidates were produced within a search.
	Seq int
}

// Rank sorts candidates by score descending, then method priority, then the
// order they were produced.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.Method.priority(), b.Method.priority(); pa != pb {
			return pa < pb
		}
		return a.Seq < b.Seq
	})
}

// Best ranks cands and returns the winner. A native candidate scoring within
// near of the top score is preferred over a correlation candidate.
func Best(cands []Candidate, near float64) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	Rank(cands)
	top := cands[0]
	if top.Method == MethodNative {
		return top, true
	}
	for _, c := range cands[1:] {
		if top.Score-c.Score > near {
			break
		}
		if c.Method == MethodNative {
			return c, true
		}
	}
	return top, true
}

// suppress keeps the best non-overlapping candidates, at most limit of them.
// cands must already be sorted best first.
func suppress(cands []Candidate, iou float64, limit int) []Candidate {
	kept := make([]Candidate, 0, min(limit, len(cands)))
	for _, c := range cands {
		overlaps := false
		for _, k := range kept {
			if overlap(c.Location, k.Location) > iou {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		kept = append(kept, c)
		if len(kept) >= limit {
			break
		}
	}
	return kept
}

// overlap returns the intersection-over-union of two rectangles.
func overlap(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}
