// Package history keeps a bounded record of locate and wait outcomes and
// fans them out as events.
package history

import (
	"sync"
	"time"

	"github.com/screenpilot/platform/internal/element"
)

// Kind names the operation an entry records.
type Kind string

const (
	KindLocate Kind = "locate"
	KindChange Kind = "change"
	KindStable Kind = "stable"
)

// Entry is one recorded outcome.
type Entry struct {
	Time      time.Time     `json:"time"`
	Kind      Kind          `json:"kind"`
	Element   string        `json:"element,omitempty"`
	Found     bool          `json:"found"`
	Rect      element.Rect  `json:"rect"`
	Score     float64       `json:"score,omitempty"`
	Method    string        `json:"method,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Adaptive  bool          `json:"adaptive,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Error     string        `json:"error,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Stats summarizes the locate entries of one element.
type Stats struct {
	Attempts      int
	Hits          int
	MeanScore     float64 // over hits
	LastThreshold float64
}

// Store is the history API the manager depends on.
type Store interface {
	Add(e Entry)
	Recent(n int) []Entry
	Since(d time.Duration) []Entry
	Stats(element string) Stats
	Events() <-chan Entry
}

// MemoryStore keeps the newest maxSize entries in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Entry
}

// NewStore creates a store holding maxEntries with an event buffer of eventBuffer.
func NewStore(maxEntries, eventBuffer int) *MemoryStore {
	return &MemoryStore{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Entry, eventBuffer),
	}
}

// Add records e and emits it. A zero Time is stamped with now.
func (s *MemoryStore) Add(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	s.emit(e)
}

// Recent returns up to n newest entries, oldest first. n <= 0 returns all.
func (s *MemoryStore) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.entries
	if n > 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Since returns entries recorded within the last d.
func (s *MemoryStore) Since(d time.Duration) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	var out []Entry
	for _, e := range s.entries {
		if !e.Time.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Stats aggregates the retained locate entries for element.
func (s *MemoryStore) Stats(element string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	var total float64
	for _, e := range s.entries {
		if e.Kind != KindLocate || e.Element != element {
			continue
		}
		st.Attempts++
		st.LastThreshold = e.Threshold
		if e.Found {
			st.Hits++
			total += e.Score
		}
	}
	if st.Hits > 0 {
		st.MeanScore = total / float64(st.Hits)
	}
	return st
}

// Events returns the channel entries are emitted on.
func (s *MemoryStore) Events() <-chan Entry {
	return s.eventsCh
}

// emit drops the event when nobody is draining the channel.
func (s *MemoryStore) emit(e Entry) {
	select {
	case s.eventsCh <- e:
	default:
	}
}

// Entries returns a copy of all entries.
func (s *MemoryStore) Entries() []Entry {
	return s.Recent(0)
}
