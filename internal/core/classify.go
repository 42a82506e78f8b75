package core

import "time"

// highPcActionFloor is the analytic probability above which an imminent event
// goes straight to ACTION_NOW regardless of the red threshold.
const highPcActionFloor = 1e-3

// Classify evaluates an event against the policy as of the current time.
func Classify(ev Event, p PolicyConfig) Event {
	return ClassifyAt(ev, p, time.Now())
}

// ClassifyAt evaluates the gates and assigns the lane for ev as of now.
//
// Gate statistics and reasons are preserved; only Passed flags and Lane are
// recomputed, so classifying twice with the same inputs is a no-op. Input
// is not modified.
//
// Lane precedence, lowest to highest:
//
//	ANALYTIC_OK  default
//	MC_REQUIRED  pc >= red threshold, or any gate failed
//	ACTION_NOW   pc > 1e-3 with TCA inside the warning window,
//	             or a refined pc above red with TCA inside the window
func ClassifyAt(ev Event, p PolicyConfig, now time.Time) Event {
	out := ev.Clone()

	// A NaN statistic compares false and so fails its gate.
	out.Gates.Eta.Passed = out.Gates.Eta.Value < p.EtaThreshold
	out.Gates.Tangency.Passed = out.Gates.Tangency.Value < p.TangencyThreshold
	out.Gates.Conditioning.Passed = out.Gates.Conditioning.Value < p.ConditioningThreshold

	hours := out.HoursToTCA(now)
	imminent := hours < p.WarningTimeThreshold

	lane := LaneAnalyticOK
	if out.PcAnalytic >= p.PcRedThreshold || !out.Gates.AllPassed() {
		lane = LaneMCRequired
	}
	if out.PcAnalytic > highPcActionFloor && imminent {
		lane = LaneActionNow
	}
	if out.PcMC != nil && *out.PcMC > p.PcRedThreshold && imminent {
		lane = LaneActionNow
	}
	out.Lane = lane
	return out
}

// ReclassifyAll applies Classify to every event as of the current time.
func ReclassifyAll(events []Event, p PolicyConfig) []Event {
	return ReclassifyAllAt(events, p, time.Now())
}

// ReclassifyAllAt returns a new slice of re-classified events. The input
// slice is left untouched.
func ReclassifyAllAt(events []Event, p PolicyConfig, now time.Time) []Event {
	out := make([]Event, len(events))
	for i := range events {
		out[i] = ClassifyAt(events[i], p, now)
	}
	return out
}

// CountByLane tallies events per lane.
func CountByLane(events []Event) map[Lane]int {
	counts := make(map[Lane]int, len(laneNames))
	for _, l := range Lanes() {
		counts[l] = 0
	}
	for i := range events {
		counts[events[i].Lane]++
	}
	return counts
}
