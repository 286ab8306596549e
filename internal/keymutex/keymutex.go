// Package keymutex provides per-key mutual exclusion: concurrent callers
// for the same key run strictly one at a time in arrival order, while
// different keys never block each other.
package keymutex

import (
	"container/list"
	"context"
	"sync"
)

type waiter chan struct{}

type entry struct {
	held    bool
	waiters *list.List // of waiter
}

// KeyMutex serializes work per key. The zero value is not usable; call New.
type KeyMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyMutex {
	return &KeyMutex{entries: make(map[string]*entry)}
}

// Lock acquires the key's mutex, blocking in FIFO order behind earlier
// callers. It returns ctx.Err() if the context ends while waiting; in that
// case the lock is not held.
func (k *KeyMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{waiters: list.New()}
		k.entries[key] = e
	}
	if !e.held {
		e.held = true
		k.mu.Unlock()
		return nil
	}
	w := make(waiter)
	elem := e.waiters.PushBack(w)
	k.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		select {
		case <-w:
			// Handed the lock concurrently with cancellation; pass it on.
			k.mu.Unlock()
			k.Unlock(key)
			return ctx.Err()
		default:
		}
		e.waiters.Remove(elem)
		k.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock releases the key's mutex and hands it to the oldest waiter, if any.
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok || !e.held {
		panic("keymutex: unlock of unheld key " + key)
	}
	if front := e.waiters.Front(); front != nil {
		e.waiters.Remove(front)
		close(front.Value.(waiter))
		return
	}
	e.held = false
	delete(k.entries, key)
}

// RunExclusive runs fn while holding the key's mutex. Release is guaranteed
// whatever fn does, including panicking.
func (k *KeyMutex) RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := k.Lock(ctx, key); err != nil {
		return err
	}
	defer k.Unlock(key)
	return fn(ctx)
}
