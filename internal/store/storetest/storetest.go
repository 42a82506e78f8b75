// Package storetest is a conformance suite shared by the core.EventStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) core.EventStore

// Event builds a fully populated event with deterministic field values.
// Timestamps are truncated to microseconds, the coarsest store precision.
func Event(id string, pc float64, lane core.Lane) core.Event {
	base := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)
	return core.Event{
		ID:            id,
		Object1:       "SAT-" + id,
		Object2:       "DEB-" + id,
		TCA:           base.Add(36 * time.Hour),
		CreationDate:  base,
		MissDistance:  812.5,
		RelativeSpeed: 7421.25,
		PcAnalytic:    pc,
		HBR:           7.5,
		Gates: core.Gates{
			Eta:          core.GateResult{Value: 3.2, Passed: true, Reason: "Size ratio high"},
			Tangency:     core.GateResult{Value: 0.991, Passed: false, Reason: "Geometry alignment"},
			Conditioning: core.GateResult{Value: 4.5, Passed: true, Reason: "Poor covariance"},
		},
		Lane:               lane,
		RelativePosition:   core.Vector3{X: 1.5, Y: -2.25, Z: 300},
		RelativeVelocity:   core.Vector3{X: -7000, Y: 12.5, Z: 0.125},
		CovarianceDiagonal: core.Vector3{X: 50, Y: 500, Z: 25},
	}
}

// Run exercises the EventStore contract against stores from open.
func Run(t *testing.T, open Factory) {
	t.Run("Empty", func(t *testing.T) {
		s := open(t)
		events, err := s.FetchAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, events)

		_, ok, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		refined := Event("B", 2e-4, core.LaneActionNow)
		pcMC := 3.5e-4
		refined.PcMC = &pcMC
		plain := Event("A", 5e-5, core.LaneAnalyticOK)

		require.NoError(t, s.BulkUpsert(ctx, []core.Event{refined, plain}))

		got, ok, err := s.Get(ctx, "B")
		require.NoError(t, err)
		require.True(t, ok)
		assertEvent(t, refined, *got)

		got, ok, err = s.Get(ctx, "A")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Nil(t, got.PcMC)
		assertEvent(t, plain, *got)
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		ev := Event("X", 5e-5, core.LaneAnalyticOK)
		require.NoError(t, s.BulkUpsert(ctx, []core.Event{ev}))

		ev.Lane = core.LaneMCRequired
		ev.PcAnalytic = 2e-4
		pcMC := 1e-6
		ev.PcMC = &pcMC
		require.NoError(t, s.BulkUpsert(ctx, []core.Event{ev}))

		all, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assertEvent(t, ev, all[0])
	})

	t.Run("FetchAllOrderedByID", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		batch := make([]core.Event, 0, 30)
		for i := 29; i >= 0; i-- {
			batch = append(batch, Event(fmt.Sprintf("CDM-%03d", i), 1e-6, core.LaneAnalyticOK))
		}
		require.NoError(t, s.BulkUpsert(ctx, batch))

		all, err := s.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 30)
		for i := range all {
			assert.Equal(t, fmt.Sprintf("CDM-%03d", i), all[i].ID)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.BulkUpsert(context.Background(), nil))
	})

	t.Run("Clear", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.BulkUpsert(ctx, []core.Event{
			Event("A", 1e-6, core.LaneAnalyticOK),
			Event("B", 1e-6, core.LaneAnalyticOK),
		}))
		require.NoError(t, s.Clear(ctx))

		all, err := s.FetchAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("ReturnsCopies", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ev := Event("A", 1e-6, core.LaneAnalyticOK)
		pcMC := 1e-5
		ev.PcMC = &pcMC
		require.NoError(t, s.BulkUpsert(ctx, []core.Event{ev}))

		pcMC = 0.9
		got, _, err := s.Get(ctx, "A")
		require.NoError(t, err)
		*got.PcMC = 0.5
		got.Lane = core.LaneActionNow

		again, _, err := s.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 1e-5, *again.PcMC)
		assert.Equal(t, core.LaneAnalyticOK, again.Lane)
	})
}

func assertEvent(t *testing.T, want, got core.Event) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Object1, got.Object1)
	assert.Equal(t, want.Object2, got.Object2)
	assert.True(t, want.TCA.Equal(got.TCA), "TCA = %v, want %v", got.TCA, want.TCA)
	assert.True(t, want.CreationDate.Equal(got.CreationDate), "CreationDate = %v, want %v", got.CreationDate, want.CreationDate)
	assert.Equal(t, want.MissDistance, got.MissDistance)
	assert.Equal(t, want.RelativeSpeed, got.RelativeSpeed)
	assert.Equal(t, want.PcAnalytic, got.PcAnalytic)
	if want.PcMC == nil {
		assert.Nil(t, got.PcMC)
	} else if assert.NotNil(t, got.PcMC) {
		assert.Equal(t, *want.PcMC, *got.PcMC)
	}
	assert.Equal(t, want.HBR, got.HBR)
	assert.Equal(t, want.Gates, got.Gates)
	assert.Equal(t, want.Lane, got.Lane)
	assert.Equal(t, want.RelativePosition, got.RelativePosition)
	assert.Equal(t, want.RelativeVelocity, got.RelativeVelocity)
	assert.Equal(t, want.CovarianceDiagonal, got.CovarianceDiagonal)
}
