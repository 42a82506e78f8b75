package core

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_InvalidSamples(t *testing.T) {
	est := NewEstimator(NewSource(1))
	for _, n := range []int{0, -1, -5000} {
		_, err := est.Estimate(context.Background(), passingEvent("X", 1e-3, 10), n)
		assert.ErrorIs(t, err, ErrInvalidSampleCount, "samples=%d", n)
	}
}

func TestEstimate_IntervalContainsEstimate(t *testing.T) {
	est := NewEstimator(NewSource(42))
	for _, pc := range []float64{0, 1e-6, 1e-3, 0.05, 0.5, 1} {
		ev := passingEvent("X", pc, 10)
		ev.MissDistance = 200
		res, err := est.Estimate(context.Background(), ev, 2000)
		require.NoError(t, err)

		assert.Equal(t, 2000, res.Samples)
		assert.GreaterOrEqual(t, res.PC, 0.0)
		assert.LessOrEqual(t, res.PC, 1.0)
		assert.GreaterOrEqual(t, res.CILower, 0.0)
		assert.LessOrEqual(t, res.CILower, res.PC)
		assert.GreaterOrEqual(t, res.CIUpper, res.PC)

		margin := z95 * math.Sqrt(res.PC*(1-res.PC)/2000)
		assert.InDelta(t, res.PC+margin, res.CIUpper, 1e-12)
	}
}

func TestEstimate_ZeroProbability(t *testing.T) {
	res, err := NewEstimator(NewSource(3)).Estimate(context.Background(), passingEvent("X", 0, 10), 500)
	require.NoError(t, err)
	assert.Zero(t, res.PC)
	assert.Zero(t, res.CILower)
	assert.Zero(t, res.CIUpper)
	for _, p := range res.Points {
		assert.False(t, p.Hit)
	}
}

func TestEstimate_ConvergesNearPerturbedPc(t *testing.T) {
	ev := passingEvent("X", 0.1, 10)
	res, err := NewEstimator(NewSource(9)).Estimate(context.Background(), ev, 200000)
	require.NoError(t, err)
	// True probability is in [0.08, 0.12); allow sampling noise.
	assert.Greater(t, res.PC, 0.075)
	assert.Less(t, res.PC, 0.125)
}

func TestEstimate_Deterministic(t *testing.T) {
	ev := passingEvent("X", 0.01, 10)
	a, err := NewEstimator(NewSource(5)).Estimate(context.Background(), ev, 5000)
	require.NoError(t, err)
	b, err := NewEstimator(NewSource(5)).Estimate(context.Background(), ev, 5000)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEstimate_PointLimit(t *testing.T) {
	est := &Estimator{Source: NewSource(1), PointLimit: 10}
	ev := passingEvent("X", 0.5, 10)
	ev.MissDistance = 100

	res, err := est.Estimate(context.Background(), ev, 1000)
	require.NoError(t, err)
	require.Len(t, res.Points, 10)

	for _, p := range res.Points {
		r := math.Hypot(p.X, p.Y)
		if p.Hit {
			assert.LessOrEqual(t, r, ev.HBR)
		} else {
			assert.GreaterOrEqual(t, r, ev.HBR-1e-9)
		}
	}

	small, err := est.Estimate(context.Background(), ev, 3)
	require.NoError(t, err)
	assert.Len(t, small.Points, 3)
}

func TestEstimate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEstimator(NewSource(1)).Estimate(ctx, passingEvent("X", 0.01, 10), 100000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimate_ConcurrentSafe(t *testing.T) {
	est := NewEstimator(NewSource(11))
	ev := passingEvent("X", 0.01, 10)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := est.Estimate(context.Background(), ev, 20000)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
