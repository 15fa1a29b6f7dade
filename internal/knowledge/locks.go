package knowledge

import "sync"

// lockRegistry serializes writes per page ID. The index and page store offer
// no cross-store transaction, so two interleaved delete-then-rewrite
// sequences against one page could mix chunk sets from different versions.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for id, creating it on first use. Locks are never
// evicted; the page ID space is small and bounded by the document count.
func (r *lockRegistry) acquire(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
