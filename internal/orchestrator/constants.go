// Package orchestrator wires the element locator, the adaptive controller and
// the change detector behind one Manager and records every outcome.
package orchestrator

// History configuration
const (
	HistoryMaxEntries  = 500
	HistoryEventBuffer = 100

	// DefaultRecentEvents is how many entries Recent returns for n <= 0.
	DefaultRecentEvents = 50
)
