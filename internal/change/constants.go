package change

import "time"

// Visual change detection defaults
const (
	DefaultTimeout       = 60 * time.Second
	DefaultCheckInterval = 500 * time.Millisecond
	DefaultThreshold     = 0.1

	// Consecutive near-identical frames before a region counts as stable.
	StableCountThreshold = 2

	// Hamming distance between perceptual hashes still treated as the same frame.
	MaxHashDistance = 4
)
