package core

import (
	"context"
	"errors"
	"math"
)

const (
	// DefaultSampleCount is the number of Bernoulli trials per estimate.
	DefaultSampleCount = 5000

	// DefaultPointLimit caps scatter points returned for visualization.
	DefaultPointLimit = 500

	// z-score for a two-sided 95% interval.
	z95 = 1.96

	// Draws between cancellation checks.
	cancelCheckInterval = 1024
)

// ErrInvalidSampleCount is returned when samples <= 0.
var ErrInvalidSampleCount = errors.New("sample count must be positive")

// Estimator refines an event's collision probability by simulation.
//
// This is a stand-in for a trajectory Monte Carlo: the "true" probability is
// the analytic Pc perturbed by a random factor in [0.8, 1.2), and hits are
// Bernoulli draws at that probability. It is not a physical model. Scatter
// points are cosmetic: hits land inside the hard-body radius and misses
// outside it.
type Estimator struct {
	Source     *Source
	PointLimit int
}

// NewEstimator creates an estimator drawing from src.
func NewEstimator(src *Source) *Estimator {
	return &Estimator{Source: src, PointLimit: DefaultPointLimit}
}

// Estimate runs samples trials for ev and returns Pc with a 95% normal-
// approximation interval. CIUpper is not clamped to 1.
//
// Each call forks its own generator, so concurrent estimates share no
// mutable state beyond one locked draw from Source.
func (e *Estimator) Estimate(ctx context.Context, ev Event, samples int) (*SimulationResult, error) {
	if samples <= 0 {
		return nil, ErrInvalidSampleCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := e.PointLimit
	if limit <= 0 {
		limit = DefaultPointLimit
	}
	src := e.Source
	if src == nil {
		src = NewTimeSeededSource()
	}
	r := src.Fork()

	trueProb := ev.PcAnalytic * rangeOf(r, 0.8, 1.2)
	points := make([]ScatterPoint, 0, min(samples, limit))

	hits := 0
	for i := 0; i < samples; i++ {
		if i%cancelCheckInterval == 0 && i > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		hit := r.Float64() < trueProb
		if hit {
			hits++
		}
		if i < limit {
			angle := r.Float64() * 2 * math.Pi
			var radius float64
			if hit {
				radius = r.Float64() * ev.HBR
			} else {
				radius = ev.HBR + r.Float64()*ev.MissDistance*0.5
			}
			points = append(points, ScatterPoint{
				X:   math.Cos(angle) * radius,
				Y:   math.Sin(angle) * radius,
				Hit: hit,
			})
		}
	}

	pc := float64(hits) / float64(samples)
	margin := z95 * math.Sqrt(pc*(1-pc)/float64(samples))
	return &SimulationResult{
		PC:      pc,
		Samples: samples,
		CILower: math.Max(0, pc-margin),
		CIUpper: pc + margin,
		Points:  points,
	}, nil
}
