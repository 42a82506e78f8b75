package core

// import_limiter.go bounds how many imports (or simulations) run at once.
//
// The limiter is a semaphore. When every slot is taken, new requests wait up
// to maxWait and then fail with the limiter's busy error. WaitForDrain blocks
// until all holders release, for graceful shutdown.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrTooManyImports is returned when no import slot frees up in time.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

	// ErrTooManySimulations is returned when no simulation slot frees up in time.
	ErrTooManySimulations = errors.New("too many concurrent simulations, please try again later")
)

const (
	DefaultMaxConcurrentImports = 5
	DefaultMaxWaitTime          = 30 * time.Second
)

// Limiter controls concurrent work using a semaphore.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration
	busyErr   error
	active    atomic.Int64
}

// NewImportLimiter creates a limiter that fails with ErrTooManyImports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	return newLimiter(maxConcurrent, maxWait, ErrTooManyImports)
}

// NewSimulationLimiter creates a limiter that fails with ErrTooManySimulations.
func NewSimulationLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	return newLimiter(maxConcurrent, maxWait, ErrTooManySimulations)
}

func newLimiter(maxConcurrent int, maxWait time.Duration, busyErr error) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		busyErr:   busyErr,
	}
}

// Acquire waits for a slot. The caller MUST Release after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return l.busyErr
	}
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	<-l.semaphore
}

// ActiveCount returns the number of held slots.
func (l *Limiter) ActiveCount() int {
	return int(l.active.Load())
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slots are held or ctx ends.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of limiter state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *Limiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
