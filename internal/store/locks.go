package store

import "sync"

// lockTable hands out one mutex per story. Mutating operations serialize
// per story; reads stay lock-free and rely on atomic renames. Locks are
// never released from the table — the per-story footprint is one mutex.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the story's write lock and returns the unlock func.
func (t *lockTable) lock(storyID string) func() {
	t.mu.Lock()
	m, ok := t.locks[storyID]
	if !ok {
		m = &sync.Mutex{}
		t.locks[storyID] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
