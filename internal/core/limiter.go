package core

// limiter.go implements concurrency control for record validation.
//
// The limiter uses a semaphore pattern to restrict in-flight validator calls
// to a fixed maximum, protecting the external validator under load. Work that
// cannot get a slot waits in an unbounded queue (one parked goroutine per
// unit) and is admitted roughly in arrival order as slots free up. There is
// no backpressure signal to the submitter.
//
// WaitForDrain blocks until all active and queued units complete.

import (
	"context"
	"sync"
	"time"
)

// DefaultConcurrency is the default limit for parallel validations.
const DefaultConcurrency = 5

// Limiter bounds the number of concurrently running units of work.
type Limiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
	queued int
}

// NewLimiter creates a limiter that allows at most maxConcurrent simultaneous units.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultConcurrency
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// Do waits for a slot, runs fn and releases the slot.
//
// The returned error is fn's own error; the limiter never turns a unit's
// failure into its own. If ctx is done before a slot is acquired, fn is not
// run and ctx.Err() is returned.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Acquire blocks until a slot is free or ctx is done.
// The caller MUST call Release() after a successful Acquire (use defer).
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.queued++
	l.mu.Unlock()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.queued--
		l.active++
		l.mu.Unlock()
		return nil

	case <-ctx.Done():
		l.mu.Lock()
		l.queued--
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// WaitForDrain blocks until no unit is running or queued, or ctx is cancelled.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if st := l.Status(); st.Active == 0 && st.Queued == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's current state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring/debugging.
func (l *Limiter) Status() LimiterStatus {
	l.mu.RLock()
	active, queued := l.active, l.queued
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Queued:        queued,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
