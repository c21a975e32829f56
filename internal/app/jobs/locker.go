package jobs

import (
	"sync"

	"github.com/ahrav/conductor/pkg/common/uuid"
)

// jobLocker hands out one mutex per job id so that mutations of the same job
// are serialized while different jobs proceed in parallel. Entries are removed
// once no goroutine holds or waits on them.
type jobLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocker() *jobLocker {
	return &jobLocker{locks: make(map[uuid.UUID]*jobLock)}
}

// lock blocks until the caller holds the lock for id and returns the unlock
// function.
func (l *jobLocker) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	jl, ok := l.locks[id]
	if !ok {
		jl = new(jobLock)
		l.locks[id] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()

	return func() {
		jl.mu.Unlock()

		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *jobLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
