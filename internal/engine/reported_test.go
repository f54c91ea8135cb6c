// ABOUTME: Tests for the reported-task TTL set
// ABOUTME: Validates TTL expiration, refresh on re-mark, eviction, sweep

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportedSet_CheckNotMarked(t *testing.T) {
	s := newReportedSet(5*time.Minute, 100)
	defer s.Close()

	assert.False(t, s.Check("never-reported"))
}

func TestReportedSet_MarkThenCheck(t *testing.T) {
	s := newReportedSet(5*time.Minute, 100)
	defer s.Close()

	s.Mark("task-1")
	assert.True(t, s.Check("task-1"))
	assert.False(t, s.Check("task-2"))
}

func TestReportedSet_Expires(t *testing.T) {
	s := newReportedSet(10*time.Millisecond, 100)
	defer s.Close()

	s.Mark("task-1")
	assert.True(t, s.Check("task-1"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Check("task-1"))
}

func TestReportedSet_RemarkRefreshesTTL(t *testing.T) {
	s := newReportedSet(50*time.Millisecond, 100)
	defer s.Close()

	s.Mark("task-1")
	time.Sleep(30 * time.Millisecond)
	s.Mark("task-1")
	time.Sleep(30 * time.Millisecond)

	assert.True(t, s.Check("task-1"), "re-mark should refresh the TTL")
}

func TestReportedSet_EvictsOldestAtCapacity(t *testing.T) {
	s := newReportedSet(5*time.Minute, 3)
	defer s.Close()

	s.Mark("task-1")
	s.Mark("task-2")
	s.Mark("task-3")
	s.Mark("task-4")

	assert.False(t, s.Check("task-1"), "oldest entry should be evicted")
	assert.True(t, s.Check("task-2"))
	assert.True(t, s.Check("task-3"))
	assert.True(t, s.Check("task-4"))
}

func TestReportedSet_SweepRemovesExpired(t *testing.T) {
	s := newReportedSet(10*time.Millisecond, 100)
	defer s.Close()

	s.Mark("task-1")
	s.Mark("task-2")
	time.Sleep(20 * time.Millisecond)

	s.dropExpired()

	s.mu.RLock()
	mapLen := len(s.seen)
	listLen := s.order.Len()
	s.mu.RUnlock()
	assert.Equal(t, 0, mapLen)
	assert.Equal(t, 0, listLen)
}

func TestReportedSet_CloseTwice(t *testing.T) {
	s := newReportedSet(time.Minute, 10)
	s.Close()
	s.Close()
}
