// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/ledgerwatch/internal/metrics"
)

// ErrLockTimeout is returned when a collection lock is not granted within
// the configured bound.
var ErrLockTimeout = errors.New("store: lock timeout")

// NamedMutex hands out one exclusive lock per key. Waiters on the same key
// are granted the lock in the order they asked for it, because each key is
// backed by a weight-1 semaphore.Weighted, which queues acquirers FIFO.
type NamedMutex struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewNamedMutex returns an empty NamedMutex.
func NewNamedMutex() *NamedMutex {
	return &NamedMutex{locks: make(map[string]*semaphore.Weighted)}
}

func (m *NamedMutex) get(key string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.locks[key] = sem
	}
	return sem
}

// Lock blocks until key is free, ctx is done, or timeout elapses. A zero
// timeout waits indefinitely. The returned release func must be called
// exactly once.
func (m *NamedMutex) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	sem := m.get(key)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		// Only our own deadline counts as a lock timeout; a cancelled
		// caller context is reported as-is.
		timedOut := ctx.Err() == nil
		metrics.RecordLockWait(key, time.Since(start), timedOut)
		if timedOut {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	metrics.RecordLockWait(key, time.Since(start), false)

	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// tryLock acquires key only if it is free right now.
func (m *NamedMutex) tryLock(key string) (func(), bool) {
	sem := m.get(key)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, true
}
