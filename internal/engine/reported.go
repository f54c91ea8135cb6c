// ABOUTME: TTL set of task ids whose terminal status was already reported
// ABOUTME: Stops re-claiming tasks the backend still returns as pending

package engine

import (
	"container/list"
	"sync"
	"time"
)

// reportedEntry stores the report time and list element for a task id.
type reportedEntry struct {
	reportedAt time.Time
	element    *list.Element
}

// reportedSet is a thread-safe, TTL-based, size-limited set of task ids
// for which this agent already reported a terminal status. The backend
// may keep returning such a task as pending for a short while (or
// indefinitely, if the report was lost); the set keeps the poll loop
// from claiming it again immediately. Insertion order is kept in a
// linked list for O(1) eviction.
type reportedSet struct {
	mu      sync.RWMutex
	seen    map[string]*reportedEntry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newReportedSet creates the set and starts a background sweep that
// drops expired entries.
func newReportedSet(ttl time.Duration, maxSize int) *reportedSet {
	s := &reportedSet{
		seen:    make(map[string]*reportedEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Check returns true if the task id was reported within the TTL.
func (s *reportedSet) Check(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.seen[taskID]
	if !ok {
		return false
	}
	return time.Since(entry.reportedAt) < s.ttl
}

// Mark records a terminal report for the task id. At capacity the
// oldest entry is evicted.
func (s *reportedSet) Mark(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, exists := s.seen[taskID]; exists {
		entry.reportedAt = now
		s.order.MoveToBack(entry.element)
		return
	}

	if len(s.seen) >= s.maxSize {
		front := s.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.seen, oldest)
		}
	}

	elem := s.order.PushBack(taskID)
	s.seen[taskID] = &reportedEntry{reportedAt: now, element: elem}
}

// sweep periodically removes expired entries.
func (s *reportedSet) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dropExpired()
		case <-s.done:
			return
		}
	}
}

func (s *reportedSet) dropExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for taskID, entry := range s.seen {
		if now.Sub(entry.reportedAt) > s.ttl {
			s.order.Remove(entry.element)
			delete(s.seen, taskID)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (s *reportedSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
