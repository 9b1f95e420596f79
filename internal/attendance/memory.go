package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type presenceSet struct {
	mu    sync.Mutex
	marks map[uint]time.Time
}

// MemoryStore keeps presence sets in process memory. Sets expire ttl after
// the session's first mark.
type MemoryStore struct {
	sets *cache.Cache
	ttl  time.Duration
}

// NewMemoryStore creates an in-memory store for single-instance deployments
// and tests.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sets: cache.New(ttl, ttl/2),
		ttl:  ttl,
	}
}

func (s *MemoryStore) set(sessionID string) *presenceSet {
	// Add fails when another goroutine created the set first; Get returns the winner.
	_ = s.sets.Add(sessionID, &presenceSet{marks: make(map[uint]time.Time)}, s.ttl)
	if v, ok := s.sets.Get(sessionID); ok {
		return v.(*presenceSet)
	}
	// Expired between Add and Get.
	set := &presenceSet{marks: make(map[uint]time.Time)}
	s.sets.Set(sessionID, set, s.ttl)
	return set
}

func (s *MemoryStore) Mark(_ context.Context, sessionID string, studentID uint, at time.Time) (bool, error) {
	set := s.set(sessionID)
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.marks[studentID]; ok {
		return false, nil
	}
	set.marks[studentID] = at
	return true, nil
}

func (s *MemoryStore) Marks(_ context.Context, sessionID string) ([]Mark, error) {
	v, ok := s.sets.Get(sessionID)
	if !ok {
		return []Mark{}, nil
	}
	set := v.(*presenceSet)
	set.mu.Lock()
	marks := make([]Mark, 0, len(set.marks))
	for id, at := range set.marks {
		marks = append(marks, Mark{StudentID: id, MarkedAt: at})
	}
	set.mu.Unlock()
	sortMarks(marks)
	return marks, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.sets.Delete(sessionID)
	return nil
}
