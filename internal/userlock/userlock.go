// Package userlock serializes work per Telegram user. The bot holds a user's
// lock while it handles one of their updates and the reminder scheduler holds
// it while it checks and delivers a prompt, so a rearm never interleaves with
// a delivery for the same user.
package userlock

import (
	"sync"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// Locks is a set of per-user mutexes. The zero value is ready to use.
// Entries are dropped once nobody holds or waits on them.
type Locks struct {
	mu sync.Mutex
	m  map[domain.UserID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty set.
func New() *Locks { return &Locks{} }

// Lock blocks until owner's lock is held and returns its release func.
func (l *Locks) Lock(owner domain.UserID) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[domain.UserID]*entry)
	}
	e, ok := l.m[owner]
	if !ok {
		e = &entry{}
		l.m[owner] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, owner)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of users currently holding or waiting on a lock.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
