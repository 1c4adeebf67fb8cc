package palloc

import "sync"

// LockedAllocator adds mutual exclusion around an Allocator for callers
// that drive it from more than one goroutine. The allocator core itself
// gives no ordering guarantee beyond program order, so this is a single
// coarse mutex rather than per-operation latching: correctness beyond
// "one caller at a time" is not something the core promises to build on.
type LockedAllocator struct {
	mu sync.Mutex
	a  *Allocator
}

// NewLocked wraps an existing Allocator with a mutex.
func NewLocked(a *Allocator) *LockedAllocator {
	return &LockedAllocator{a: a}
}

func (l *LockedAllocator) Allocate(filter Filter) (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Allocate(filter)
}

func (l *LockedAllocator) Free(pageID uint32, filter Filter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Free(pageID, filter)
}

func (l *LockedAllocator) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Persist()
}

func (l *LockedAllocator) RootPageID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.RootPageID()
}
