package cache

import (
	"context"
	"sync"
)

// KeyedLock hands out one exclusive slot per key. Mutations on the same flag
// queue behind each other while different flags proceed in parallel.
// Slots are reference counted and dropped once nobody holds or waits on them.
type KeyedLock struct {
	m     sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		m:     sync.Mutex{},
		slots: make(map[string]*slot),
	}
}

// Acquire blocks until the slot for key is free or ctx is done. On success
// the returned func releases the slot and must be called exactly once.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.m.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.m.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.unref(key, s)
		}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *KeyedLock) unref(key string, s *slot) {
	l.m.Lock()
	defer l.m.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyedLock) Len() int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.slots)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
