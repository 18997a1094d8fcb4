package element

import (
	"image"
	"log/slog"
	"math"

	apperrors "github.com/screenpilot/platform/internal/errors"
)

// Resolve computes the absolute region of el.
//
// A relative region is applied to its parent's resolved region, or to the screen
// when no parent is named. The parent chain is walked iteratively with a visited
// set; a missing or cyclic parent falls back to the element's absolute Region when
// one is set and otherwise fails with REGION_UNRESOLVABLE. An ancestor with no
// region fields anchors to the full screen.
func Resolve(el *UIElement, all Set, screen image.Rectangle) (Rect, error) {
	if el == nil {
		return Rect{}, apperrors.New(apperrors.CodeInvalidArgument, "nil element")
	}
	if !el.HasRegion() {
		return Rect{}, unresolvable(el.Name, "no region or relative_region set")
	}

	screenRect := RectFrom(screen)
	visited := map[string]struct{}{el.Name: {}}
	var chain []*UIElement
	var anchor Rect

	cur := el
	for {
		if cur.RelativeRegion == nil {
			if cur.Region == nil {
				anchor = screenRect
			} else {
				anchor = *cur.Region
			}
			break
		}
		if cur.Parent == "" {
			chain = append(chain, cur)
			anchor = screenRect
			break
		}

		parent, ok := all[cur.Parent]
		reason := ""
		switch {
		case !ok:
			reason = "parent not found"
		case hasVisited(visited, cur.Parent):
			reason = "cyclic parent chain"
		}
		if reason != "" {
			// Fall back to the nearest element on the failed path that carries an
			// absolute region; everything below it stays relative.
			chain = append(chain, cur)
			for j := len(chain) - 1; j >= 0; j-- {
				if chain[j].Region == nil {
					continue
				}
				slog.Debug("relative region unresolvable, using absolute region",
					"element", chain[j].Name, "parent", cur.Parent, "reason", reason)
				anchor = *chain[j].Region
				chain = chain[:j]
				reason = ""
				break
			}
			if reason != "" {
				return Rect{}, unresolvable(el.Name, reason).
					WithMetadata("at", cur.Name).
					WithMetadata("parent", cur.Parent)
			}
			break
		}

		visited[cur.Parent] = struct{}{}
		chain = append(chain, cur)
		cur = parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		anchor = applyRelative(anchor, *chain[i].RelativeRegion)
	}
	return anchor, nil
}

func hasVisited(visited map[string]struct{}, name string) bool {
	_, ok := visited[name]
	return ok
}

// applyRelative maps a fractional rectangle onto anchor, rounding to whole pixels.
func applyRelative(anchor Rect, rel RelRect) Rect {
	return Rect{
		X: anchor.X + int(math.Round(rel.X*float64(anchor.W))),
		Y: anchor.Y + int(math.Round(rel.Y*float64(anchor.H))),
		W: int(math.Round(rel.W * float64(anchor.W))),
		H: int(math.Round(rel.H * float64(anchor.H))),
	}
}

func unresolvable(name, reason string) *apperrors.AppError {
	return apperrors.Newf(apperrors.CodeRegionUnresolvable, "resolve region for %q: %s", name, reason).
		WithMetadata("element", name)
}
