package pipeline

import "sync"

// LockRegistry grants exclusive ownership of identity keys within the process.
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryLock claims key. It returns false if key is already held; otherwise the
// returned func releases it and may be called more than once.
func (l *LockRegistry) TryLock(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
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

// Held reports whether key is currently locked.
func (l *LockRegistry) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// Len is the number of held keys.
func (l *LockRegistry) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
