// Package lockmap provides mutual exclusion keyed by name.
package lockmap

import (
	"context"
	"sync"
)

// Map holds one lock per key. Keys with no holder take no memory.
type Map struct {
	mu sync.Mutex
	// closing a key's channel wakes everyone waiting on that key
	held map[string]chan struct{}
}

func New() *Map {
	return &Map{held: map[string]chan struct{}{}}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	for {
		unlock, wait := m.tryLock(key)
		if wait == nil {
			return unlock, nil
		}
		select {
		case <-wait:
			// freed, but another waiter may win the race; try again
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryLock takes key only if nobody holds it.
func (m *Map) TryLock(key string) (func(), bool) {
	unlock, wait := m.tryLock(key)
	return unlock, wait == nil
}

func (m *Map) tryLock(key string) (func(), chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wait, taken := m.held[key]; taken {
		return nil, wait
	}
	released := make(chan struct{})
	m.held[key] = released

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.held, key)
			close(released)
		})
	}, nil
}
