package locator

import "github.com/screenpilot/platform/internal/syncx"

// ConfidenceStore remembers thresholds that adaptive searches succeeded at,
// for the lifetime of the process. Persisting them to the element document
// is left to the caller.
type ConfidenceStore struct {
	m *syncx.Map[string, float64]
}

// NewConfidenceStore creates an empty store.
func NewConfidenceStore() *ConfidenceStore {
	return &ConfidenceStore{m: syncx.NewMap[string, float64]()}
}

// Remember records the threshold that worked for element.
func (s *ConfidenceStore) Remember(element string, threshold float64) {
	s.m.Store(element, threshold)
}

// Lookup returns the remembered threshold for element.
func (s *ConfidenceStore) Lookup(element string) (float64, bool) {
	return s.m.Load(element)
}

// Forget drops the remembered threshold for element.
func (s *ConfidenceStore) Forget(element string) { s.m.Delete(element) }

// Snapshot returns all remembered thresholds.
func (s *ConfidenceStore) Snapshot() map[string]float64 { return s.m.Snapshot() }
