package result

import "sync"

// Store is the session-scoped map from step id to StepResult. It is written
// only by the execution engine (and by background tasks recording their own
// completion) and read by the evaluator and by live observers. Writes to
// distinct ids never conflict; for one id the engine is the only writer, so
// an RWMutex around an append-only map is all the discipline needed.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]StepResult
}

// NewStore creates an empty result store for one session.
func NewStore() *Store {
	return &Store{byID: make(map[string]StepResult)}
}

// Put records r under r.ID. A terminal result supersedes a RUNNING
// placeholder under the same id; document order is preserved from the first
// write of each id.
func (s *Store) Put(r StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.byID[r.ID]; !seen {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = r
}

// Get returns the result recorded under id.
func (s *Store) Get(id string) (StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the number of recorded ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns all results in first-write order. The returned slice is
// a copy; callers may hold it across engine progress.
func (s *Store) Snapshot() []StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StepResult, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Running returns the ids currently holding a RUNNING placeholder.
func (s *Store) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if s.byID[id].Status == StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}
