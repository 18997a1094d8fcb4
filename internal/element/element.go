// Package element models visually identifiable on-screen controls and the
// screen regions they may appear in.
package element

import (
	"fmt"
	"image"
	"sort"
)

// DefaultConfidence is the baseline similarity threshold when none is configured.
const DefaultConfidence = 0.7

// Rect is an absolute pixel rectangle (x, y, width, height).
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RectFrom converts an image.Rectangle.
func RectFrom(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Rectangle converts to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Offset translates the rectangle by (dx, dy).
func (r Rect) Offset(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.X, r.Y, r.W, r.H)
}

// RelRect is a rectangle expressed as fractions of an anchor rectangle.
type RelRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// UIElement is one visually identifiable control.
// Region and RelativeRegion may both be set; see Resolve for precedence.
type UIElement struct {
	Name           string
	ReferencePaths []string
	Region         *Rect
	RelativeRegion *RelRect
	Parent         string
	Confidence     float64
}

// New creates an element with deduplicated reference paths.
func New(name string, refs []string, confidence float64) *UIElement {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &UIElement{Name: name, ReferencePaths: DedupePaths(refs), Confidence: confidence}
}

// HasRegion reports whether any region field is set.
func (e *UIElement) HasRegion() bool {
	return e.Region != nil || e.RelativeRegion != nil
}

func (e *UIElement) String() string {
	return fmt.Sprintf("UIElement(name=%s, refs=%d, confidence=%.2f)", e.Name, len(e.ReferencePaths), e.Confidence)
}

// DedupePaths removes repeated paths, keeping first occurrence order.
func DedupePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Set maps element names to elements.
type Set map[string]*UIElement

// Names returns element names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the named element.
func (s Set) Get(name string) (*UIElement, bool) {
	el, ok := s[name]
	return el, ok
}
