// Package keymutex serializes work per string key. Callers holding the same key run one at a
// time in arrival order; callers on different keys never wait on each other.
package keymutex

import (
	"context"
	"fmt"
	"sync"
)

// Mutex is a per-key FIFO lock. The zero value is ready to use.
//
// Each key maps to the completion channel of the most recent caller (the tail). A new caller
// swaps itself in as the tail, waits for the previous tail to close, runs, then closes its own
// channel. The map entry is removed when the finishing caller is still the tail.
type Mutex struct {
	mu    sync.Mutex
	tails map[string]chan struct{}

	// queued is invoked after a caller has joined the queue for key. Tests use it to order
	// arrivals.
	queued func(key string)
}

// New returns an empty Mutex.
func New() *Mutex {
	return &Mutex{}
}

// WithLock runs fn while holding key. The lock is released when fn returns, errors or panics.
// If ctx is cancelled while waiting, WithLock returns ctx.Err() without running fn and the
// queue behind it stays intact.
func (m *Mutex) WithLock(ctx context.Context, key string, fn func(context.Context) error) (err error) {
	prev, done := m.enqueue(key)
	if m.queued != nil {
		m.queued(key)
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand our slot over once the predecessor finishes so successors keep their order.
			go func() {
				<-prev
				m.release(key, done)
			}()
			return ctx.Err()
		}
	}

	defer m.release(key, done)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("keymutex: panic while holding %q: %v", key, r)
		}
	}()
	return fn(ctx)
}

// Do is WithLock for functions that produce a value.
func Do[T any](ctx context.Context, m *Mutex, key string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Len reports the number of keys with a holder or waiter.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tails)
}

func (m *Mutex) enqueue(key string) (prev, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tails == nil {
		m.tails = make(map[string]chan struct{})
	}
	done = make(chan struct{})
	prev = m.tails[key]
	m.tails[key] = done
	return prev, done
}

func (m *Mutex) release(key string, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(done)
	if m.tails[key] == done {
		delete(m.tails, key)
	}
}
