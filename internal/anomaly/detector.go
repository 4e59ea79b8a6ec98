// Package anomaly flags irregular flight behaviour with fixed threshold rules.
package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/set-night/skylog/internal/telemetry"
)

const (
	CategoryAltitude  = "altitude"
	CategoryBattery   = "battery"
	CategoryGPS       = "gps"
	CategoryVibration = "vibration"
	CategoryAttitude  = "attitude"
	CategoryRC        = "rc"
	CategoryError     = "error"
)

// Categories lists every category the detector can emit.
var Categories = []string{
	CategoryAltitude, CategoryAttitude, CategoryBattery, CategoryError,
	CategoryGPS, CategoryRC, CategoryVibration,
}

// Detector evaluates the rules against a dataset. It holds no state besides
// its thresholds and is safe for concurrent use.
type Detector struct {
	th Thresholds
}

func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th}
}

func (d *Detector) Thresholds() Thresholds {
	return d.th
}

// Detect returns the anomalies of ds ordered by start time, category and end
// time. The result is never nil.
func (d *Detector) Detect(ds *telemetry.Dataset) []telemetry.Anomaly {
	out := []telemetry.Anomaly{}
	if ds == nil {
		return out
	}
	out = append(out, d.altitude(ds)...)
	out = append(out, d.battery(ds)...)
	out = append(out, d.gps(ds)...)
	out = append(out, d.vibration(ds)...)
	out = append(out, d.attitude(ds)...)
	out = append(out, d.rc(ds)...)
	out = append(out, d.errorRecords(ds)...)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StartUS != b.StartUS {
			return a.StartUS < b.StartUS
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.EndUS < b.EndUS
	})
	return out
}

func grade(v, medium, high float64) (telemetry.Severity, bool) {
	switch {
	case v > high:
		return telemetry.SeverityHigh, true
	case v > medium:
		return telemetry.SeverityMedium, true
	}
	return "", false
}

func (d *Detector) altitude(ds *telemetry.Dataset) []telemetry.Anomaly {
	m := newMerger(CategoryAltitude, d.th.MaxEvidence, func(peak float64, n int) string {
		return fmt.Sprintf("altitude changed at up to %.1f m/s over %d sample(s)", peak, n)
	})
	pts := ds.NumericField("GPS", "Alt")
	for i := 1; i < len(pts); i++ {
		prev, cur := pts[i-1], pts[i]
		dt := seconds(prev.TimeUS, cur.TimeUS)
		if dt <= 0 {
			continue
		}
		rate := (cur.Value.Float - prev.Value.Float) / dt
		sev, bad := grade(math.Abs(rate), d.th.AltitudeRate, d.th.AltitudeRateHigh)
		if !bad {
			m.miss()
			continue
		}
		m.hit(prev.TimeUS, cur.TimeUS, sev, math.Abs(rate), evidence(cur, "GPS", "Alt", &rate))
	}
	return m.done()
}

func (d *Detector) battery(ds *telemetry.Dataset) []telemetry.Anomaly {
	bat := ds.BatteryType()
	if bat == "" {
		return nil
	}
	m := newMerger(CategoryBattery, d.th.MaxEvidence, func(peak float64, n int) string {
		return fmt.Sprintf("battery voltage dropped by up to %.2f V between readings over %d sample(s)", peak, n)
	})
	pts := ds.NumericField(bat, "Volt")
	for i := 1; i < len(pts); i++ {
		drop := pts[i-1].Value.Float - pts[i].Value.Float
		sev, bad := grade(drop, d.th.VoltageDrop, d.th.VoltageDropHigh)
		if !bad {
			m.miss()
			continue
		}
		delta := -drop
		m.hit(pts[i-1].TimeUS, pts[i].TimeUS, sev, drop, evidence(pts[i], bat, "Volt", &delta))
	}
	return m.done()
}

func (d *Detector) gps(ds *telemetry.Dataset) []telemetry.Anomaly {
	m := newMerger(CategoryGPS, d.th.MaxEvidence, func(worst float64, n int) string {
		return fmt.Sprintf("GPS fix lost (status %d, below %d) for %d sample(s)", int(worst), d.th.MinGPSFix, n)
	})
	m.lowest = true
	for _, p := range ds.NumericField("GPS", "Status") {
		if int(p.Value.Float) >= d.th.MinGPSFix {
			m.miss()
			continue
		}
		m.hit(p.TimeUS, p.TimeUS, telemetry.SeverityMedium, p.Value.Float, evidence(p, "GPS", "Status", nil))
	}
	return m.done()
}

func (d *Detector) vibration(ds *telemetry.Dataset) []telemetry.Anomaly {
	s, ok := ds.Schema("VIBE")
	if !ok {
		return nil
	}
	axes := []string{"VibeX", "VibeY", "VibeZ"}
	var idx []int
	for _, a := range axes {
		idx = append(idx, s.FieldIndex(a))
	}
	m := newMerger(CategoryVibration, d.th.MaxEvidence, func(peak float64, n int) string {
		return fmt.Sprintf("vibration peaked at %.1f m/s/s over %d sample(s)", peak, n)
	})
	for _, r := range ds.Series("VIBE") {
		peak, axis := math.Inf(-1), ""
		for k, i := range idx {
			if i < 0 {
				continue
			}
			if v, ok := r.Field(i).Float64(); ok && v > peak {
				peak, axis = v, axes[k]
			}
		}
		if axis == "" {
			continue
		}
		sev, bad := grade(peak, d.th.Vibration, d.th.VibrationHigh)
		if !bad {
			m.miss()
			continue
		}
		m.hit(r.Timestamp, r.Timestamp, sev, peak, telemetry.Evidence{
			TimeUS: r.Timestamp, Message: "VIBE", Field: axis, Value: peak,
		})
	}
	return m.done()
}

func (d *Detector) attitude(ds *telemetry.Dataset) []telemetry.Anomaly {
	s, ok := ds.Schema("ATT")
	if !ok {
		return nil
	}
	m := newMerger(CategoryAttitude, d.th.MaxEvidence, func(peak float64, n int) string {
		return fmt.Sprintf("attitude changed at up to %.0f deg/s over %d sample(s)", peak, n)
	})
	fields := []string{"Roll", "Pitch"}
	idx := []int{s.FieldIndex("Roll"), s.FieldIndex("Pitch")}
	recs := ds.Series("ATT")
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		dt := seconds(prev.Timestamp, cur.Timestamp)
		if dt <= 0 {
			continue
		}
		var (
			worst     float64
			worstRate float64
			ev        telemetry.Evidence
		)
		for k, fi := range idx {
			if fi < 0 {
				continue
			}
			a, ok1 := prev.Field(fi).Float64()
			b, ok2 := cur.Field(fi).Float64()
			if !ok1 || !ok2 {
				continue
			}
			rate := angleDelta(a, b) / dt
			if math.Abs(rate) > worst {
				worst, worstRate = math.Abs(rate), rate
				ev = telemetry.Evidence{TimeUS: cur.Timestamp, Message: "ATT", Field: fields[k], Value: b}
			}
		}
		sev, bad := grade(worst, d.th.AttitudeRate, d.th.AttitudeRateHigh)
		if !bad {
			m.miss()
			continue
		}
		ev.Delta = &worstRate
		m.hit(prev.Timestamp, cur.Timestamp, sev, worst, ev)
	}
	return m.done()
}

// angleDelta returns b-a in degrees folded into [-180, 180).
func angleDelta(a, b float64) float64 {
	return math.Mod(math.Mod(b-a+180, 360)+360, 360) - 180
}

func (d *Detector) rc(ds *telemetry.Dataset) []telemetry.Anomaly {
	s, ok := ds.Schema("RCIN")
	if !ok {
		return nil
	}
	var idx []int
	for ch := 1; ch <= 8; ch++ {
		if i := s.FieldIndex(fmt.Sprintf("C%d", ch)); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil
	}
	m := newMerger(CategoryRC, d.th.MaxEvidence, func(peak float64, n int) string {
		return fmt.Sprintf("RC link lost, all channels below %.0f us (highest %.0f) for %d sample(s)", d.th.RCLossPWM, peak, n)
	})
	for _, r := range ds.Series("RCIN") {
		lost, highest := true, math.Inf(-1)
		for _, i := range idx {
			v, ok := r.Field(i).Float64()
			if !ok || v >= d.th.RCLossPWM {
				lost = false
				break
			}
			highest = math.Max(highest, v)
		}
		if !lost {
			m.miss()
			continue
		}
		m.hit(r.Timestamp, r.Timestamp, telemetry.SeverityHigh, highest, telemetry.Evidence{
			TimeUS: r.Timestamp, Message: "RCIN", Field: "C1..C8", Value: highest,
		})
	}
	return m.done()
}

// errorRecords reports every ERR record on its own. Code 0 marks a subsystem
// recovering and is reported as low severity.
func (d *Detector) errorRecords(ds *telemetry.Dataset) []telemetry.Anomaly {
	s, ok := ds.Schema("ERR")
	if !ok {
		return nil
	}
	sub, code := s.FieldIndex("Subsys"), s.FieldIndex("ECode")
	if sub < 0 || code < 0 {
		return nil
	}
	var out []telemetry.Anomaly
	for _, r := range ds.Series("ERR") {
		subsys, _ := r.Field(sub).Float64()
		ecode, _ := r.Field(code).Float64()
		a := telemetry.Anomaly{
			Category:    CategoryError,
			StartUS:     r.Timestamp,
			EndUS:       r.Timestamp,
			Severity:    telemetry.SeverityMedium,
			Description: fmt.Sprintf("error reported by subsystem %d (code %d)", int(subsys), int(ecode)),
			Samples:     1,
			Evidence: []telemetry.Evidence{{
				TimeUS: r.Timestamp, Message: "ERR", Field: "ECode", Value: ecode,
			}},
		}
		if ecode == 0 {
			a.Severity = telemetry.SeverityLow
			a.Description = fmt.Sprintf("subsystem %d cleared its error", int(subsys))
		}
		out = append(out, a)
	}
	return out
}

func seconds(from, to uint64) float64 {
	if to <= from {
		return 0
	}
	return float64(to-from) / 1e6
}

func evidence(p telemetry.Point, msg, field string, delta *float64) telemetry.Evidence {
	v, _ := p.Value.Float64()
	ev := telemetry.Evidence{TimeUS: p.TimeUS, Message: msg, Field: field, Value: v}
	if delta != nil {
		d := *delta
		ev.Delta = &d
	}
	return ev
}

// merger folds consecutive violating samples of one rule into a single anomaly.
type merger struct {
	category    string
	maxEvidence int
	describe    func(peak float64, samples int) string
	// lowest makes the tracked extreme the minimum instead of the maximum.
	lowest bool

	cur  *telemetry.Anomaly
	peak float64
	out  []telemetry.Anomaly
}

func newMerger(category string, maxEvidence int, describe func(float64, int) string) *merger {
	if maxEvidence < 1 {
		maxEvidence = 1
	}
	return &merger{category: category, maxEvidence: maxEvidence, describe: describe}
}

func (m *merger) hit(start, end uint64, sev telemetry.Severity, metric float64, ev telemetry.Evidence) {
	if m.cur == nil {
		m.cur = &telemetry.Anomaly{
			Category: m.category,
			StartUS:  start,
			Severity: sev,
		}
		m.peak = metric
	}
	a := m.cur
	a.EndUS = end
	a.Samples++
	if sev.Rank() > a.Severity.Rank() {
		a.Severity = sev
	}
	if (m.lowest && metric < m.peak) || (!m.lowest && metric > m.peak) {
		m.peak = metric
	}
	if len(a.Evidence) < m.maxEvidence {
		a.Evidence = append(a.Evidence, ev)
	}
}

func (m *merger) miss() {
	if m.cur == nil {
		return
	}
	m.cur.Description = m.describe(m.peak, m.cur.Samples)
	m.out = append(m.out, *m.cur)
	m.cur = nil
}

func (m *merger) done() []telemetry.Anomaly {
	m.miss()
	return m.out
}
