package certificates

import (
	"sync"

	"github.com/google/uuid"
)

// entityLocks hands out one mutex per entity, dropping it once unused.
type entityLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[uuid.UUID]*entityLock)}
}

func (l *entityLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	el, ok := l.locks[id]
	if !ok {
		el = &entityLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()

	return func() {
		el.mu.Unlock()

		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
