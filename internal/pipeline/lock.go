package pipeline

import "sync"

// keyedMutex serializes work per document within this process. The store's
// active-job constraint enforces the same rule across processes; the local
// lock rejects a duplicate submission before it burns a job slot.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*entry)}
}

// tryLock acquires the key if it is free and returns its unlock function.
// It never blocks; a held key returns false.
func (k *keyedMutex) tryLock(key string) (func(), bool) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	if !e.mu.TryLock() {
		k.mu.Unlock()
		return nil, false
	}
	e.refs++
	k.mu.Unlock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}, true
}
