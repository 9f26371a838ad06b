package app

import "sync"

// userLocks serializes lookup handling per user. The admit-fetch-consume
// sequence is a read-modify-write over entitlement state, so two in-flight
// lookups for the same phone number could double-consume quota. Entries are
// never evicted; the population is bounded by the number of distinct users.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given key, creating it on first use.
// The returned function releases it.
func (l *userLocks) Lock(key string) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
