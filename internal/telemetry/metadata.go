package telemetry

import (
	"math"
	"sort"
	"strconv"
)

// maxEvents caps each event list kept in the metadata; the matching
// *Count field always holds the full number.
const maxEvents = 200

// Range summarizes a numeric field over the whole flight.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

type GPSLossEvent struct {
	TimeUS uint64 `json:"time_us"`
	Status int    `json:"status"`
}

type ErrorEvent struct {
	TimeUS    uint64 `json:"time_us"`
	Subsystem int    `json:"subsystem"`
	Code      int    `json:"error_code"`
}

type ModeChange struct {
	TimeUS  uint64 `json:"time_us"`
	Mode    int    `json:"mode"`
	ModeNum int    `json:"mode_num"`
}

type RCLossEvent struct {
	TimeUS uint64 `json:"time_us"`
}

// Metadata is the derived summary of a decoded log.
type Metadata struct {
	StartTimeUS     uint64         `json:"start_time_us"`
	EndTimeUS       uint64         `json:"end_time_us"`
	DurationSeconds float64        `json:"duration_seconds"`
	TotalMessages   int            `json:"total_messages"`
	MessageCounts   map[string]int `json:"message_counts"`
	SchemaCount     int            `json:"schema_count"`
	SkippedRecords  int            `json:"skipped_records"`
	SkipReasons     map[string]int `json:"skip_reasons,omitempty"`

	Altitude       *Range `json:"altitude_m,omitempty"`
	GroundSpeed    *Range `json:"ground_speed_mps,omitempty"`
	BatteryVoltage *Range `json:"battery_voltage_v,omitempty"`
	BatteryTemp    *Range `json:"battery_temp_c,omitempty"`

	GPSFixTypes    []int          `json:"gps_fix_types,omitempty"`
	GPSLossCount   int            `json:"gps_loss_count"`
	GPSLossEvents  []GPSLossEvent `json:"gps_loss_events,omitempty"`
	ErrorCount     int            `json:"error_count"`
	Errors         []ErrorEvent   `json:"errors,omitempty"`
	ModeChanges    []ModeChange   `json:"mode_changes,omitempty"`
	RCLossCount    int            `json:"rc_loss_count"`
	RCLossEvents   []RCLossEvent  `json:"rc_loss_events,omitempty"`
}

func computeMetadata(ds *Dataset, skips map[string]int, schemaCount int, rcLossPWM float64) Metadata {
	m := Metadata{
		MessageCounts: make(map[string]int, len(ds.series)),
		SchemaCount:   schemaCount,
	}

	first := true
	for name, recs := range ds.series {
		if len(recs) == 0 {
			continue
		}
		m.MessageCounts[name] = len(recs)
		m.TotalMessages += len(recs)
		if first || recs[0].Timestamp < m.StartTimeUS {
			m.StartTimeUS = recs[0].Timestamp
		}
		if first || recs[len(recs)-1].Timestamp > m.EndTimeUS {
			m.EndTimeUS = recs[len(recs)-1].Timestamp
		}
		first = false
	}
	m.DurationSeconds = float64(m.EndTimeUS-m.StartTimeUS) / 1e6

	for reason, n := range skips {
		if n == 0 {
			continue
		}
		if m.SkipReasons == nil {
			m.SkipReasons = make(map[string]int)
		}
		m.SkipReasons[reason] = n
		m.SkippedRecords += n
	}

	m.Altitude = rangeOf(ds.numericSeries("GPS", "Alt"))
	m.GroundSpeed = rangeOf(ds.numericSeries("GPS", "Spd"))
	if bat := ds.BatteryType(); bat != "" {
		m.BatteryVoltage = rangeOf(ds.numericSeries(bat, "Volt"))
		m.BatteryTemp = rangeOf(ds.numericSeries(bat, "Temp"))
	}

	gpsStatus(ds, &m)
	errorEvents(ds, &m)
	modeChanges(ds, &m)
	rcLoss(ds, &m, rcLossPWM)
	return m
}

func rangeOf(pts []numericPoint) *Range {
	if len(pts) == 0 {
		return nil
	}
	r := &Range{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	n := 0
	for _, p := range pts {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			continue
		}
		r.Min = math.Min(r.Min, p.v)
		r.Max = math.Max(r.Max, p.v)
		sum += p.v
		n++
	}
	if n == 0 {
		return nil
	}
	r.Mean = sum / float64(n)
	return r
}

func gpsStatus(ds *Dataset, m *Metadata) {
	seen := make(map[int]bool)
	for _, p := range ds.numericSeries("GPS", "Status") {
		status := int(p.v)
		seen[status] = true
		if status < 3 {
			m.GPSLossCount++
			if len(m.GPSLossEvents) < maxEvents {
				m.GPSLossEvents = append(m.GPSLossEvents, GPSLossEvent{TimeUS: p.t, Status: status})
			}
		}
	}
	for s := range seen {
		m.GPSFixTypes = append(m.GPSFixTypes, s)
	}
	sort.Ints(m.GPSFixTypes)
}

func errorEvents(ds *Dataset, m *Metadata) {
	s, ok := ds.schemas["ERR"]
	if !ok {
		return
	}
	sub, code := s.FieldIndex("Subsys"), s.FieldIndex("ECode")
	for _, r := range ds.series["ERR"] {
		m.ErrorCount++
		if len(m.Errors) >= maxEvents {
			continue
		}
		m.Errors = append(m.Errors, ErrorEvent{
			TimeUS:    r.Timestamp,
			Subsystem: intAt(r, sub),
			Code:      intAt(r, code),
		})
	}
}

func modeChanges(ds *Dataset, m *Metadata) {
	s, ok := ds.schemas["MODE"]
	if !ok {
		return
	}
	mode, num := s.FieldIndex("Mode"), s.FieldIndex("ModeNum")
	for _, r := range ds.series["MODE"] {
		if len(m.ModeChanges) >= maxEvents {
			break
		}
		m.ModeChanges = append(m.ModeChanges, ModeChange{
			TimeUS:  r.Timestamp,
			Mode:    intAt(r, mode),
			ModeNum: intAt(r, num),
		})
	}
}

// RCLossPWM is the default PWM level below which every primary channel
// reading is treated as a lost radio link.
const RCLossPWM = 900

func rcLoss(ds *Dataset, m *Metadata, threshold float64) {
	for _, t := range RCLossTimes(ds, threshold) {
		m.RCLossCount++
		if len(m.RCLossEvents) < maxEvents {
			m.RCLossEvents = append(m.RCLossEvents, RCLossEvent{TimeUS: t})
		}
	}
}

// RCLossTimes returns the timestamps of RCIN records whose channels C1..C8
// all read below threshold.
func RCLossTimes(ds *Dataset, threshold float64) []uint64 {
	s, ok := ds.schemas["RCIN"]
	if !ok {
		return nil
	}
	var idx []int
	for ch := 1; ch <= 8; ch++ {
		if i := s.FieldIndex("C" + strconv.Itoa(ch)); i >= 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil
	}
	var out []uint64
	for _, r := range ds.series["RCIN"] {
		lost := true
		for _, i := range idx {
			if v, ok := r.Field(i).Float64(); !ok || v >= threshold {
				lost = false
				break
			}
		}
		if lost {
			out = append(out, r.Timestamp)
		}
	}
	return out
}

func intAt(r Record, i int) int {
	v, _ := r.Field(i).Float64()
	return int(v)
}

// applyUnits attaches unit labels from UNIT and FMTU messages to schemas.
func (ds *Dataset) applyUnits() {
	unitSchema, ok := ds.schemas["UNIT"]
	if !ok {
		return
	}
	fmtu, ok := ds.schemas["FMTU"]
	if !ok {
		return
	}
	idField, labelField := unitSchema.FieldIndex("Id"), unitSchema.FieldIndex("Label")
	typeField, unitsField := fmtu.FieldIndex("FmtType"), fmtu.FieldIndex("UnitIds")
	if idField < 0 || labelField < 0 || typeField < 0 || unitsField < 0 {
		return
	}

	labels := make(map[byte]string)
	for _, r := range ds.series["UNIT"] {
		id, _ := r.Field(idField).Float64()
		labels[byte(id)] = r.Field(labelField).Text
	}

	byType := make(map[uint8]*Schema, len(ds.schemas))
	for _, s := range ds.schemas {
		byType[s.Type] = s
	}
	for _, r := range ds.series["FMTU"] {
		typ, _ := r.Field(typeField).Float64()
		s, ok := byType[uint8(typ)]
		if !ok {
			continue
		}
		ids := r.Field(unitsField).Text
		units := make([]string, len(s.Fields))
		for i := 0; i < len(ids) && i < len(units); i++ {
			units[i] = labels[ids[i]]
		}
		s.Units = units
	}
}
