package engine

import (
	"sync"
)

// inflightGuard enforces at-most-one in-flight attempt per task ID within a
// run. The dispatch loop acquires before spawning a worker and releases when
// the outcome is handled, so a task can never be dispatched twice concurrently
// even if the ready set reports it again.
type inflightGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[string]struct{})}
}

// Acquire marks a task in flight. Returns false if it already is.
func (g *inflightGuard) Acquire(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[taskID]; busy {
		return false
	}
	g.active[taskID] = struct{}{}
	return true
}

// Release clears a task's in-flight mark.
func (g *inflightGuard) Release(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, taskID)
}

// Count returns how many tasks are currently in flight.
func (g *inflightGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
