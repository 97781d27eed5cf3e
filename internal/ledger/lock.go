package ledger

import (
	"context"
	"time"
)

// timedMutex is a mutex with bounded-wait acquisition. Hot competitions see
// many simultaneous lucky-dip draws; a caller that cannot take the lock
// within the configured wait gets ErrBusy instead of queueing unboundedly.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() *timedMutex {
	m := &timedMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// lock blocks until the mutex is acquired or ctx is done.
func (m *timedMutex) lock(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockTimeout acquires the mutex, giving up with ErrBusy after wait.
func (m *timedMutex) lockTimeout(ctx context.Context, wait time.Duration) error {
	select {
	case <-m.ch:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-m.ch:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *timedMutex) unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("ledger: unlock of unlocked timedMutex")
	}
}
