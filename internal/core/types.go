package core

import (
	"fmt"
	"math"
	"time"
)

// Vector3 is a three-component vector used for relative geometry and the
// simplified covariance diagonal.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GateResult is one diagnostic check: its statistic, outcome, and justification.
type GateResult struct {
	Value  float64 `json:"value"`
	Passed bool    `json:"passed"`
	Reason string  `json:"reason"`
}

// Gates holds the three diagnostic checks. All three are always present.
type Gates struct {
	Eta          GateResult `json:"eta"`          // size ratio
	Tangency     GateResult `json:"tangency"`     // encounter geometry alignment
	Conditioning GateResult `json:"conditioning"` // covariance conditioning
}

// AllPassed reports whether every gate passed.
func (g Gates) AllPassed() bool {
	return g.Eta.Passed && g.Tangency.Passed && g.Conditioning.Passed
}

// Lane is the triage category of an event. Lanes are ordered by severity.
type Lane int

const (
	LaneAnalyticOK Lane = iota
	LaneMCRequired
	LaneActionNow
)

var laneNames = [...]string{
	LaneAnalyticOK: "ANALYTIC_OK",
	LaneMCRequired: "MC_REQUIRED",
	LaneActionNow:  "ACTION_NOW",
}

// Lanes returns all lanes in ascending severity.
func Lanes() []Lane {
	return []Lane{LaneAnalyticOK, LaneMCRequired, LaneActionNow}
}

func (l Lane) String() string {
	if l < LaneAnalyticOK || l > LaneActionNow {
		return fmt.Sprintf("Lane(%d)", int(l))
	}
	return laneNames[l]
}

// ParseLane converts a lane name (e.g. "MC_REQUIRED") to a Lane.
func ParseLane(s string) (Lane, error) {
	for i, name := range laneNames {
		if name == s {
			return Lane(i), nil
		}
	}
	return LaneAnalyticOK, fmt.Errorf("unknown lane %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Lane) MarshalText() ([]byte, error) {
	if l < LaneAnalyticOK || l > LaneActionNow {
		return nil, fmt.Errorf("invalid lane %d", int(l))
	}
	return []byte(laneNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Lane) UnmarshalText(b []byte) error {
	parsed, err := ParseLane(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Event is a single conjunction (close-approach) report between two objects.
// A persisted Event is always fully populated.
type Event struct {
	ID            string    `json:"id"`
	Object1       string    `json:"object1"`
	Object2       string    `json:"object2"`
	TCA           time.Time `json:"tca"`
	CreationDate  time.Time `json:"creationDate"`
	MissDistance  float64   `json:"missDistance"`  // meters
	RelativeSpeed float64   `json:"relativeSpeed"` // m/s
	PcAnalytic    float64   `json:"pcAnalytic"`
	PcMC          *float64  `json:"pcMc,omitempty"` // set only after refinement
	HBR           float64   `json:"hbr"`            // combined hard-body radius, meters

	Gates Gates `json:"gates"`
	Lane  Lane  `json:"lane"`

	RelativePosition   Vector3 `json:"relativePosition"`
	RelativeVelocity   Vector3 `json:"relativeVelocity"`
	CovarianceDiagonal Vector3 `json:"covarianceDiagonal"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	if e.PcMC != nil {
		v := *e.PcMC
		e.PcMC = &v
	}
	return e
}

// HoursToTCA returns the signed number of hours from now until closest approach.
// Past events yield negative values.
func (e Event) HoursToTCA(now time.Time) float64 {
	return e.TCA.Sub(now).Hours()
}

// PolicyConfig holds the thresholds that drive gate and lane evaluation.
// It is the entire tuning surface; changing it requires re-classification.
type PolicyConfig struct {
	PcRedThreshold        float64 `json:"pcRedThreshold" yaml:"pc_red_threshold"`
	EtaThreshold          float64 `json:"etaThreshold" yaml:"eta_threshold"`
	TangencyThreshold     float64 `json:"tangencyThreshold" yaml:"tangency_threshold"`
	ConditioningThreshold float64 `json:"conditioningThreshold" yaml:"conditioning_threshold"`
	WarningTimeThreshold  float64 `json:"warningTimeThreshold" yaml:"warning_time_threshold"` // hours
}

// DefaultPolicy returns the standard operational thresholds.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		PcRedThreshold:        1e-4,
		EtaThreshold:          10,
		TangencyThreshold:     0.97,
		ConditioningThreshold: 5.0,
		WarningTimeThreshold:  24,
	}
}

// Validate checks that every threshold is in its natural range.
func (p PolicyConfig) Validate() error {
	var problems []string
	if !(p.PcRedThreshold > 0 && p.PcRedThreshold <= 1) {
		problems = append(problems, fmt.Sprintf("pcRedThreshold (%g) must be in (0, 1]", p.PcRedThreshold))
	}
	if !positiveFinite(p.EtaThreshold) {
		problems = append(problems, fmt.Sprintf("etaThreshold (%g) must be a positive finite number", p.EtaThreshold))
	}
	if !positiveFinite(p.TangencyThreshold) {
		problems = append(problems, fmt.Sprintf("tangencyThreshold (%g) must be a positive finite number", p.TangencyThreshold))
	}
	if !positiveFinite(p.ConditioningThreshold) {
		problems = append(problems, fmt.Sprintf("conditioningThreshold (%g) must be a positive finite number", p.ConditioningThreshold))
	}
	if math.IsNaN(p.WarningTimeThreshold) || math.IsInf(p.WarningTimeThreshold, 0) || p.WarningTimeThreshold < 0 {
		problems = append(problems, fmt.Sprintf("warningTimeThreshold (%g) must be a non-negative number of hours", p.WarningTimeThreshold))
	}
	if len(problems) > 0 {
		return &PolicyError{Problems: problems}
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// ScatterPoint is one encounter-plane sample for visualization.
type ScatterPoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Hit bool    `json:"hit"`
}

// SimulationResult is the output of one Monte Carlo run.
// CILower <= PC <= CIUpper always holds; CIUpper is not clamped to 1.
type SimulationResult struct {
	PC      float64        `json:"pc"`
	Samples int            `json:"samples"`
	CILower float64        `json:"ciLower"`
	CIUpper float64        `json:"ciUpper"`
	Points  []ScatterPoint `json:"points"`
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting  ImportPhase = "starting"
	PhaseReading   ImportPhase = "reading"
	PhaseComplete  ImportPhase = "complete"
	PhaseFailed    ImportPhase = "failed"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import operation.
type ImportProgress struct {
	ImportID string      `json:"importId"`
	FileName string      `json:"fileName"`
	Phase    ImportPhase `json:"phase"`
	Percent  int         `json:"percent"`
	Imported int         `json:"imported"`
	Error    string      `json:"error,omitempty"` // non-empty if Phase is PhaseFailed
}

// RowRejection describes a data line that was skipped during ingestion.
type RowRejection struct {
	Line   int    `json:"line"` // 1-indexed, header is line 1
	Reason string `json:"reason"`
}

// IngestResult contains the outcome of one ingestion.
type IngestResult struct {
	ImportID     string         `json:"importId"`
	Imported     int            `json:"imported"`
	Batches      int            `json:"batches"`
	RejectedRows int            `json:"rejectedRows"`
	Rejections   []RowRejection `json:"rejections,omitempty"` // first MaxRejections only
	Delimiter    string         `json:"delimiter"`
	Headers      []string       `json:"headers"`
	BytesRead    int64          `json:"bytesRead"`
	Digest       string         `json:"digest"` // blake3 of the raw bytes
	MaxPending   int            `json:"maxPending"`
	Duration     time.Duration  `json:"duration"`
}
