package pmrecover

import "sync/atomic"

// ThreadManager is the engine's thread-registration service: workers
// must register before touching persistent memory, because the allocator
// uses per-thread arenas.
type ThreadManager struct {
	next atomic.Uint64
}

// NewThreadManager builds a fresh thread-registration service.
func NewThreadManager() *ThreadManager { return &ThreadManager{} }

// ThreadID assigns and returns the next thread id.
func (tm *ThreadManager) ThreadID() uint64 {
	return tm.next.Add(1) - 1
}
