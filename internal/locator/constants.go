package locator

import "time"

// Locator defaults
const (
	// References beyond this count are ignored for a single search.
	DefaultMaxReferences = 10

	// A score at or above this ends the search without scanning further templates.
	DefaultExcellentScore = 0.99

	DefaultTimeout = 10 * time.Second

	// Adaptive ladder bounds
	DefaultAdaptiveMin  = 0.5
	DefaultAdaptiveMax  = 0.9
	DefaultAdaptiveStep = 0.1

	// Rounding applied to ladder levels so 0.9-3*0.1 compares as 0.6.
	levelPrecision = 1e9
	// Smaller steps would round to repeated levels.
	minAdaptiveStep = 1 / levelPrecision

	// Upper bound on rungs between Max and Min.
	MaxAdaptiveLevels = 1000

	debugOutline = 2 // px
)
