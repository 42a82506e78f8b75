package core

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Field defaults applied when a column is missing or unusable.
const (
	DefaultMissDistance  = 1000.0 // meters
	DefaultRelativeSpeed = 7500.0 // m/s
	DefaultPc            = 0.0

	unknownObject1 = "UNKNOWN_1"
	unknownObject2 = "UNKNOWN_2"
)

// Date layouts tried, in order, for TCA values without a 'T' separator.
// All are interpreted as UTC.
var tcaLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"1/2/2006 15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-002 15:04:05.999", // CCSDS day-of-year
	"2006-01-02", "2006/01/02", "2006.01.02",
	"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
	"Jan 2, 2006 15:04:05", "2 Jan 2006 15:04:05",
	"Jan 2, 2006", "2 Jan 2006",
	"20060102",
}

// Layouts tried for combined date-time tokens.
var tcaISOLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-002T15:04:05.999999999",
}

// csvHeader is the sniffed delimiter plus lower-cased, trimmed header names.
type csvHeader struct {
	delimiter string
	names     []string
}

// sniffDelimiter picks the delimiter by presence on the header line:
// tab, then semicolon, else comma.
func sniffDelimiter(line string) string {
	switch {
	case strings.Contains(line, "\t"):
		return "\t"
	case strings.Contains(line, ";"):
		return ";"
	default:
		return ","
	}
}

func parseHeader(line string) csvHeader {
	delim := sniffDelimiter(line)
	raw := strings.Split(strings.ToLower(line), delim)
	names := make([]string, len(raw))
	for i, h := range raw {
		names[i] = strings.TrimSpace(h)
	}
	return csvHeader{delimiter: delim, names: names}
}

// minTokens is the fewest values a data row needs to be considered.
func (h csvHeader) minTokens() int {
	return min(3, len(h.names))
}

// value returns the token under the first header containing key, or "".
func (h csvHeader) value(values []string, key string) string {
	for i, name := range h.names {
		if strings.Contains(name, key) {
			if i < len(values) {
				return values[i]
			}
			return ""
		}
	}
	return ""
}

// rowParser turns data lines into classified events.
type rowParser struct {
	header   csvHeader
	policy   PolicyConfig
	rng      *rand.Rand
	now      time.Time
	importID string
}

// parse converts one data line. It returns false with a reason when the row
// is too short to use.
func (rp *rowParser) parse(line string, index int) (Event, string, bool) {
	values := strings.Split(line, rp.header.delimiter)
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	if len(values) < rp.header.minTokens() {
		return Event{}, fmt.Sprintf("expected at least %d values, got %d", rp.header.minTokens(), len(values)), false
	}

	get := func(key string) string { return rp.header.value(values, key) }

	id := get("id")
	if id == "" {
		id = fmt.Sprintf("IMP-%s-%d", rp.importID, index)
	}
	obj1 := orDefault(get("object1"), unknownObject1)
	obj2 := orDefault(get("object2"), unknownObject2)

	miss := parseBounded(get("miss"), DefaultMissDistance, 0, math.MaxFloat64)
	speedRaw := get("speed")
	if speedRaw == "" {
		speedRaw = get("velocity")
	}
	speed := parseBounded(speedRaw, DefaultRelativeSpeed, 0, math.MaxFloat64)
	pcRaw := get("prob")
	if pcRaw == "" {
		pcRaw = get("pc")
	}
	pc := parseBounded(pcRaw, DefaultPc, 0, 1)

	r := rp.rng
	ev := Event{
		ID:            id,
		Object1:       obj1,
		Object2:       obj2,
		TCA:           normalizeTCA(get("tca"), rp.now),
		CreationDate:  rp.now,
		MissDistance:  miss,
		RelativeSpeed: speed,
		PcAnalytic:    pc,
		HBR:           rangeOf(r, 5, 10),
		Gates: Gates{
			Eta:          GateResult{Value: rangeOf(r, 0, 15), Reason: placeholderReason},
			Tangency:     GateResult{Value: rangeOf(r, 0.9, 1.0), Reason: placeholderReason},
			Conditioning: GateResult{Value: rangeOf(r, 0, 8), Reason: placeholderReason},
		},
		RelativePosition:   randomVector(r, miss),
		RelativeVelocity:   randomVector(r, speed),
		CovarianceDiagonal: Vector3{X: 50, Y: 500, Z: 50},
	}
	return ClassifyAt(ev, rp.policy, rp.now), "", true
}

// normalizeTCA parses raw as an absolute UTC timestamp, falling back to now.
func normalizeTCA(raw string, now time.Time) time.Time {
	if raw == "" {
		return now
	}
	layouts := tcaLayouts
	if strings.Contains(raw, "T") {
		layouts = tcaISOLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return now
}

// parseBounded parses a float and returns def when the value is empty,
// malformed, non-finite, or outside [lo, hi].
func parseBounded(raw string, def, lo, hi float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return def
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
