package registry

import (
	"sync"

	"omegartc/native/internal/domain"
)

type key struct {
	mode domain.Mode
	id   string
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once no caller
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[key]*refMutex
}

func (k *keyedMutex) lock(id key) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[key]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
