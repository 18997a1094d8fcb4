// Package match scores reference templates against screenshots.
package match

// Matching defaults
const (
	// Minimum score for the native exact-search path to report a hit
	DefaultNativeMinScore = 0.98

	// Candidates kept per method after non-maximum suppression
	DefaultMaxCandidates = 16

	// Candidates overlapping a better one by more than this IoU are dropped
	DefaultOverlapIoU = 0.5

	// Scores within this distance of the best count as a tie when preferring
	// the native path
	DefaultNearScore = 0.01

	// Variance below this is treated as a flat (textureless) patch
	flatVariance = 1e-6
)

// DefaultScales are the template scale factors tried when the original scale
// yields nothing.
var DefaultScales = []float64{0.8, 0.9, 1.1, 1.2}
