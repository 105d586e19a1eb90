package engine

import (
	"sync"
)

// lockTable enforces at most one in-flight reconciliation per resource.
// Acquisition never blocks: a held lock is reported as AlreadyInProgress and
// the caller decides whether to retry.
type lockTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		held: make(map[string]struct{}),
	}
}

// tryAcquire takes the lock for id or fails with AlreadyInProgress.
func (t *lockTable) tryAcquire(id ResourceID) error {
	key := id.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, taken := t.held[key]; taken {
		return NewAlreadyInProgressError(key)
	}
	t.held[key] = struct{}{}
	return nil
}

// release frees the lock for id. Releasing an unheld lock is a no-op.
func (t *lockTable) release(id ResourceID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, id.String())
}

// inFlight reports whether a pass currently holds the lock for id.
func (t *lockTable) inFlight(id ResourceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, taken := t.held[id.String()]
	return taken
}
