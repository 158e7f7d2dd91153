package pipeline

import (
	"sync"
	"testing"
)

func TestKeyedMutex_RejectsHeldKey(t *testing.T) {
	km := newKeyedMutex()

	unlock, ok := km.tryLock("doc-1")
	if !ok {
		t.Fatal("tryLock on a free key failed")
	}
	if _, ok := km.tryLock("doc-1"); ok {
		t.Fatal("tryLock acquired a held key")
	}

	unlock()
	again, ok := km.tryLock("doc-1")
	if !ok {
		t.Fatal("tryLock after release failed")
	}
	again()
}

func TestKeyedMutex_AtMostOneHolderPerKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	holders := 0
	acquired := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, ok := km.tryLock("doc-1")
			if !ok {
				return
			}
			defer unlock()

			mu.Lock()
			holders++
			acquired++
			if holders > 1 {
				t.Error("two holders of the same key")
			}
			mu.Unlock()

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if acquired == 0 {
		t.Error("no goroutine ever acquired the key")
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()

	unlockA, ok := km.tryLock("doc-a")
	if !ok {
		t.Fatal("tryLock(doc-a) failed")
	}
	unlockB, ok := km.tryLock("doc-b")
	if !ok {
		t.Fatal("tryLock(doc-b) blocked by an unrelated key")
	}
	unlockB()
	unlockA()

	// All entries are reclaimed once released.
	km.mu.Lock()
	remaining := len(km.locks)
	km.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock table has %d entries after release, want 0", remaining)
	}
}
