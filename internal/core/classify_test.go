package core

import (
	"math"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// passingEvent returns an event whose gates all pass under DefaultPolicy.
func passingEvent(id string, pc, hoursToTCA float64) Event {
	return Event{
		ID:         id,
		Object1:    "SAT-A",
		Object2:    "SAT-B",
		TCA:        testNow.Add(hoursDuration(hoursToTCA)),
		PcAnalytic: pc,
		HBR:        10,
		Gates: Gates{
			Eta:          GateResult{Value: 2, Reason: reasonSizeRatio},
			Tangency:     GateResult{Value: 0.5, Reason: reasonGeometry},
			Conditioning: GateResult{Value: 1, Reason: reasonCovariance},
		},
	}
}

func ptr(v float64) *float64 { return &v }

func TestClassifyAt(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name  string
		event func() Event
		want  Lane
	}{
		{
			name:  "low pc far out is analytic ok",
			event: func() Event { return passingEvent("A", 5e-5, 48) },
			want:  LaneAnalyticOK,
		},
		{
			name:  "pc at red threshold needs mc",
			event: func() Event { return passingEvent("B", 2e-4, 48) },
			want:  LaneMCRequired,
		},
		{
			name:  "pc exactly at red threshold needs mc",
			event: func() Event { return passingEvent("B2", 1e-4, 48) },
			want:  LaneMCRequired,
		},
		{
			name:  "high pc imminent is action now",
			event: func() Event { return passingEvent("C", 2e-3, 10) },
			want:  LaneActionNow,
		},
		{
			name:  "high pc outside window is mc required",
			event: func() Event { return passingEvent("C2", 2e-3, 30) },
			want:  LaneMCRequired,
		},
		{
			name:  "pc exactly at action floor is not action now",
			event: func() Event { return passingEvent("C3", 1e-3, 10) },
			want:  LaneMCRequired,
		},
		{
			name: "failed eta gate needs mc",
			event: func() Event {
				ev := passingEvent("D", 1e-7, 48)
				ev.Gates.Eta.Value = 12
				return ev
			},
			want: LaneMCRequired,
		},
		{
			name: "gate value equal to threshold fails",
			event: func() Event {
				ev := passingEvent("D2", 1e-7, 48)
				ev.Gates.Tangency.Value = 0.97
				return ev
			},
			want: LaneMCRequired,
		},
		{
			name: "NaN statistic fails its gate",
			event: func() Event {
				ev := passingEvent("D3", 1e-7, 48)
				ev.Gates.Conditioning.Value = math.NaN()
				return ev
			},
			want: LaneMCRequired,
		},
		{
			name: "refined pc above red escalates imminent event",
			event: func() Event {
				ev := passingEvent("E", 1e-6, 5)
				ev.PcMC = ptr(5e-4)
				return ev
			},
			want: LaneActionNow,
		},
		{
			name: "refined pc above red far out does not escalate",
			event: func() Event {
				ev := passingEvent("E2", 1e-6, 48)
				ev.PcMC = ptr(5e-4)
				return ev
			},
			want: LaneAnalyticOK,
		},
		{
			name: "refined pc below red does not demote",
			event: func() Event {
				ev := passingEvent("E3", 2e-4, 5)
				ev.PcMC = ptr(1e-6)
				return ev
			},
			want: LaneMCRequired,
		},
		{
			name:  "past tca counts as inside the window",
			event: func() Event { return passingEvent("F", 2e-3, -6) },
			want:  LaneActionNow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAt(tt.event(), p, testNow)
			if got.Lane != tt.want {
				t.Errorf("Lane = %v, want %v", got.Lane, tt.want)
			}
		})
	}
}

func TestClassifyAt_GateFlags(t *testing.T) {
	ev := passingEvent("G", 1e-7, 48)
	ev.Gates.Eta.Value = 15
	got := ClassifyAt(ev, DefaultPolicy(), testNow)

	if got.Gates.Eta.Passed {
		t.Error("Eta.Passed = true, want false")
	}
	if !got.Gates.Tangency.Passed || !got.Gates.Conditioning.Passed {
		t.Errorf("other gates = %+v, want passed", got.Gates)
	}
	if got.Gates.Eta.Value != 15 || got.Gates.Eta.Reason != reasonSizeRatio {
		t.Errorf("Eta = %+v, statistic and reason must be preserved", got.Gates.Eta)
	}
}

func TestClassifyAt_MonotonicInPc(t *testing.T) {
	p := DefaultPolicy()
	sweep := []float64{0, 1e-9, 1e-6, p.PcRedThreshold / 2, p.PcRedThreshold, 5e-4, 1e-3, 2e-3, 0.5, 1}

	tests := []struct {
		name  string
		hours float64
		setup func(*Event)
	}{
		{"outside window", 48, nil},
		{"inside window", 10, nil},
		{"past TCA", -2, nil},
		{"failed gate outside window", 48, func(ev *Event) { ev.Gates.Eta.Value = 50 }},
		{"failed gate inside window", 10, func(ev *Event) { ev.Gates.Tangency.Value = 0.99 }},
		{"refined low inside window", 10, func(ev *Event) { ev.PcMC = ptr(1e-6) }},
		{"refined high inside window", 10, func(ev *Event) { ev.PcMC = ptr(5e-4) }},
		{"refined high outside window", 48, func(ev *Event) { ev.PcMC = ptr(5e-4) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := LaneAnalyticOK
			for i, pc := range sweep {
				ev := passingEvent("M", pc, tt.hours)
				if tt.setup != nil {
					tt.setup(&ev)
				}
				got := ClassifyAt(ev, p, testNow).Lane
				if i > 0 && got < prev {
					t.Errorf("pc %g -> lane %v, below %v at pc %g", pc, got, prev, sweep[i-1])
				}
				prev = got
			}
		})
	}
}

func TestClassifyAt_Idempotent(t *testing.T) {
	p := DefaultPolicy()
	ev := passingEvent("H", 3e-4, 12)
	ev.PcMC = ptr(2e-4)

	once := ClassifyAt(ev, p, testNow)
	twice := ClassifyAt(once, p, testNow)

	if once.Lane != twice.Lane || once.Gates != twice.Gates {
		t.Errorf("second classification changed the event: %+v -> %+v", once, twice)
	}
	if *once.PcMC != *twice.PcMC {
		t.Errorf("PcMC changed: %g -> %g", *once.PcMC, *twice.PcMC)
	}
}

func TestClassifyAt_DoesNotMutateInput(t *testing.T) {
	ev := passingEvent("I", 2e-3, 10)
	ev.PcMC = ptr(1e-3)
	ev.Lane = LaneAnalyticOK

	out := ClassifyAt(ev, DefaultPolicy(), testNow)
	*out.PcMC = 0.5

	if ev.Lane != LaneAnalyticOK {
		t.Errorf("input lane = %v, want unchanged", ev.Lane)
	}
	if *ev.PcMC != 1e-3 {
		t.Errorf("input PcMC = %g, want 1e-3", *ev.PcMC)
	}
}

func TestClassifyAt_PolicyChangeReclassifies(t *testing.T) {
	ev := passingEvent("J", 5e-5, 48)

	strict := DefaultPolicy()
	strict.PcRedThreshold = 1e-5
	if got := ClassifyAt(ev, strict, testNow).Lane; got != LaneMCRequired {
		t.Errorf("strict policy lane = %v, want MC_REQUIRED", got)
	}

	wide := DefaultPolicy()
	wide.WarningTimeThreshold = 72
	ev.PcAnalytic = 2e-3
	if got := ClassifyAt(ev, wide, testNow).Lane; got != LaneActionNow {
		t.Errorf("wide window lane = %v, want ACTION_NOW", got)
	}
}

func TestReclassifyAllAt(t *testing.T) {
	events := []Event{
		passingEvent("A", 5e-5, 48),
		passingEvent("B", 2e-4, 48),
		passingEvent("C", 2e-3, 10),
	}
	for i := range events {
		events[i].Lane = LaneActionNow
	}

	out := ReclassifyAllAt(events, DefaultPolicy(), testNow)

	want := []Lane{LaneAnalyticOK, LaneMCRequired, LaneActionNow}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i, l := range want {
		if out[i].Lane != l {
			t.Errorf("out[%d].Lane = %v, want %v", i, out[i].Lane, l)
		}
		if events[i].Lane != LaneActionNow {
			t.Errorf("input[%d] was modified", i)
		}
		if out[i].ID != events[i].ID {
			t.Errorf("out[%d].ID = %s, order must be preserved", i, out[i].ID)
		}
	}

	if got := ReclassifyAllAt(nil, DefaultPolicy(), testNow); len(got) != 0 {
		t.Errorf("ReclassifyAllAt(nil) len = %d, want 0", len(got))
	}
}

func TestCountByLane(t *testing.T) {
	events := ReclassifyAllAt([]Event{
		passingEvent("A", 5e-5, 48),
		passingEvent("B", 2e-4, 48),
		passingEvent("C", 2e-4, 48),
	}, DefaultPolicy(), testNow)

	counts := CountByLane(events)
	if counts[LaneAnalyticOK] != 1 || counts[LaneMCRequired] != 2 || counts[LaneActionNow] != 0 {
		t.Errorf("CountByLane = %v", counts)
	}
	if _, ok := counts[LaneActionNow]; !ok {
		t.Error("every lane should be present in the counts")
	}
}

func TestLaneText(t *testing.T) {
	for _, l := range Lanes() {
		b, err := l.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", l, err)
		}
		var back Lane
		if err := back.UnmarshalText(b); err != nil || back != l {
			t.Errorf("UnmarshalText(%s) = %v, %v", b, back, err)
		}
	}
	if _, err := ParseLane("RED"); err == nil {
		t.Error("ParseLane(RED) should fail")
	}
	if _, err := Lane(7).MarshalText(); err == nil {
		t.Error("MarshalText(7) should fail")
	}
	if got := Lane(7).String(); got != "Lane(7)" {
		t.Errorf("String() = %q, want Lane(7)", got)
	}
}
