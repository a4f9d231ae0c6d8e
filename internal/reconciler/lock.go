package reconciler

import "sync"

// LockSet is a set of per-key advisory locks. Acquisition never blocks: a
// key that is already held is reported as busy so that a duplicate request
// can be rejected instead of queued behind the first one.
type LockSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockSet creates an empty lock set
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for key. On success it returns a release
// function that is safe to call more than once.
func (l *LockSet) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently locked
func (l *LockSet) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}

// Len returns the number of held locks
func (l *LockSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
