package contentstore

import "sync"

// keyLocks provides mutual exclusion per key inside one process. Entries are
// dropped once no goroutine holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*refLock)}
}

func (k *keyLocks) do(key string, fn func() error) error {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &refLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.Lock()
	defer func() {
		lock.Unlock()
		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}()
	return fn()
}
