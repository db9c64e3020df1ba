package auth

import "sync"

// userLocks hands out one mutex per user ID. Entries are reference counted
// and dropped when the last holder releases, so the map only holds users
// with an operation in flight.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID's mutex is held and returns its release func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()

	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}

	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--

		if ul.refs == 0 {
			delete(l.locks, userID)
		}

		l.mu.Unlock()
	}
}

// size returns the number of users with a lock in use.
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
