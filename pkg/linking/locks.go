package linking

import "sync"

// textLocks hands out one RWMutex per text id. Entries are dropped once no
// caller holds or waits for them.
type textLocks struct {
	mu    sync.Mutex
	locks map[string]*textLock
}

type textLock struct {
	sync.RWMutex
	refs int
}

func (l *textLocks) acquire(id string) *textLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*textLock)
	}
	tl, ok := l.locks[id]
	if !ok {
		tl = &textLock{}
		l.locks[id] = tl
	}
	tl.refs++
	return tl
}

func (l *textLocks) release(id string, tl *textLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, id)
	}
}

// lock takes the write lock of a text and returns its release func.
func (l *textLocks) lock(id string) func() {
	tl := l.acquire(id)
	tl.Lock()
	return func() {
		tl.Unlock()
		l.release(id, tl)
	}
}

// rlock takes the read lock of a text and returns its release func.
func (l *textLocks) rlock(id string) func() {
	tl := l.acquire(id)
	tl.RLock()
	return func() {
		tl.RUnlock()
		l.release(id, tl)
	}
}

// size is the number of live entries, for tests.
func (l *textLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
