package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker serializes runs on the same conversation. Two questions
// asked concurrently on one conversation would otherwise interleave their
// turns in the append-only log.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int // holders plus waiters
}

func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// unlock func must be called exactly once.
func (l *ConversationLocker) Lock(ctx context.Context, id string) (unlock func(), err error) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.release(id, e)
		}, nil
	case <-ctx.Done():
		l.release(id, e)
		return nil, fmt.Errorf("conversation lock: %w", ctx.Err())
	}
}

func (l *ConversationLocker) release(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

// Active returns the number of conversations with a holder or waiter.
func (l *ConversationLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
