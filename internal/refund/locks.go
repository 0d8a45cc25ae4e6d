package refund

import "sync"

// keyedLocks serializes work per refund ID. Concurrent lifecycle calls for
// the same refund would otherwise race on the state machine and could
// double-submit to a gateway; calls for different refunds stay parallel.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refundLock
}

type refundLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*refundLock)}
}

// lock acquires the mutex for id and returns its unlock function. Entries
// are reference-counted so the map does not grow with every refund ever
// touched.
func (k *keyedLocks) lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refundLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
