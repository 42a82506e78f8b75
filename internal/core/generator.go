package core

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// MockObjectNames is the catalog used for synthetic conjunctions.
var MockObjectNames = []string{
	"STARLINK-1002",
	"DEBRIS (FENGYUN)",
	"COSMOS 2251 DEB",
	"NOAA 17",
	"INTELSAT 901",
	"TITAN 3C TRANSTAGE",
	"SL-12 R/B",
	"PAYLOAD A",
	"UNKNOWN",
	"FALCON 9 DEB",
}

// DefaultSeedCount is the number of events a seed request generates when no
// count is given. MaxSeedCount bounds a single request.
const (
	DefaultSeedCount = 50
	MaxSeedCount     = 100000
)

const (
	generatedIDBase   = 20250000
	reasonSizeRatio   = "Size ratio high"
	reasonGeometry    = "Geometry alignment"
	reasonCovariance  = "Poor covariance"
	placeholderReason = "Imported; statistic not supplied"
)

// Generator produces synthetic conjunction events for seeding and tests.
type Generator struct {
	Source *Source
	Now    func() time.Time
}

// NewGenerator creates a generator drawing from src and using the wall clock.
func NewGenerator(src *Source) *Generator {
	return &Generator{Source: src, Now: time.Now}
}

// Generate returns count classified events sorted by PcAnalytic, highest first.
// Output is deterministic for a fixed seed and clock.
func (g *Generator) Generate(count int, p PolicyConfig) []Event {
	if count <= 0 {
		return []Event{}
	}
	now := g.Now().UTC()
	r := g.Source.Fork()

	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, g.generateOne(r, i, now, p))
	}
	sort.SliceStable(events, func(a, b int) bool {
		return events[a].PcAnalytic > events[b].PcAnalytic
	})
	return events
}

func (g *Generator) generateOne(r *rand.Rand, i int, now time.Time, p PolicyConfig) Event {
	o1 := r.Intn(len(MockObjectNames))
	o2 := r.Intn(len(MockObjectNames) - 1)
	if o2 >= o1 {
		o2++
	}

	tca := now.Add(hoursDuration(rangeOf(r, 1, 72)))
	created := now.Add(-hoursDuration(rangeOf(r, 1, 12)))
	miss := rangeOf(r, 10, 5000)
	hbr := rangeOf(r, 2, 15)

	var pc float64
	switch roll := r.Float64(); {
	case roll > 0.95:
		pc = rangeOf(r, 1e-4, 1e-2)
	case roll > 0.8:
		pc = rangeOf(r, 1e-6, 1e-4)
	default:
		pc = rangeOf(r, 1e-9, 1e-6)
	}

	eta := rangeOf(r, 1, 20)
	tan := rangeOf(r, 0.8, 1.0)
	cond := rangeOf(r, 1, 10)
	speed := rangeOf(r, 5000, 15000)

	ev := Event{
		ID:            fmt.Sprintf("CDM-%d", generatedIDBase+i),
		Object1:       MockObjectNames[o1],
		Object2:       MockObjectNames[o2],
		TCA:           tca,
		CreationDate:  created,
		MissDistance:  miss,
		RelativeSpeed: speed,
		PcAnalytic:    pc,
		HBR:           hbr,
		Gates: Gates{
			Eta:          GateResult{Value: eta, Reason: reasonSizeRatio},
			Tangency:     GateResult{Value: tan, Reason: reasonGeometry},
			Conditioning: GateResult{Value: cond, Reason: reasonCovariance},
		},
		RelativePosition: randomVector(r, miss),
		RelativeVelocity: randomVector(r, 7000),
		CovarianceDiagonal: Vector3{
			X: rangeOf(r, 10, 100),
			Y: rangeOf(r, 100, 1000),
			Z: rangeOf(r, 10, 50),
		},
	}
	return ClassifyAt(ev, p, now)
}

// randomVector returns a vector with components in [-scale, scale).
func randomVector(r *rand.Rand, scale float64) Vector3 {
	return Vector3{
		X: (r.Float64()*2 - 1) * scale,
		Y: (r.Float64()*2 - 1) * scale,
		Z: (r.Float64()*2 - 1) * scale,
	}
}

func hoursDuration(h float64) time.Duration {
	return time.Duration(math.Round(h * float64(time.Hour)))
}
