package core

import (
	"math/rand"
	"sync"
	"time"
)

// Source is an injectable, seedable random source shared by the generator,
// the ingestion placeholders, and the estimator.
//
// Thread-safety: all methods are safe for concurrent use. Hot loops should
// call Fork and draw from the returned *rand.Rand without locking.
type Source struct {
	mu   sync.Mutex
	seed int64
	rng  *rand.Rand
}

// NewSource creates a Source from a seed. Two sources with the same seed
// produce identical sequences for identical call orders.
func NewSource(seed int64) *Source {
	return &Source{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededSource creates a Source seeded from the wall clock.
func NewTimeSeededSource() *Source {
	return NewSource(time.Now().UnixNano())
}

// Seed returns the seed this source was created with.
func (s *Source) Seed() int64 { return s.seed }

// Float64 returns a value in [0, 1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Range returns a value in [min, max).
func (s *Source) Range(min, max float64) float64 {
	return min + s.Float64()*(max-min)
}

// Intn returns a value in [0, n). It panics if n <= 0.
func (s *Source) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Fork derives an independent, unsynchronized generator seeded from this
// source. The parent advances by one draw per fork.
func (s *Source) Fork() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewSource(s.rng.Int63()))
}

// rangeOf draws from [min, max) on an unsynchronized generator.
func rangeOf(r *rand.Rand, min, max float64) float64 {
	return min + r.Float64()*(max-min)
}
