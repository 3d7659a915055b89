package usecase

import (
	"context"
	"sync"
)

// CreditLocker serializes read-add-set balance updates per backend user.
// Lock blocks until the lock is held or ctx ends; the returned func releases it.
type CreditLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// localLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type localLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewLocalLocker() CreditLocker {
	return &localLocker{entries: make(map[string]*keyedEntry)}
}

func (l *localLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[userID]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(userID, e)
		})
	}, nil
}

func (l *localLocker) release(userID string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, userID)
	}
}

// chainLocker acquires each locker in order and releases in reverse.
// Local first keeps goroutines of one process from hammering Redis.
type chainLocker []CreditLocker

func ChainLockers(ls ...CreditLocker) CreditLocker {
	return chainLocker(ls)
}

func (c chainLocker) Lock(ctx context.Context, userID string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		u, err := l.Lock(ctx, userID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return releaseAll, nil
}
