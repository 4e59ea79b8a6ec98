package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/set-night/skylog/internal/domain"
)

// Record is one decoded data record.
type Record struct {
	Type      uint8   `json:"type"`
	Timestamp uint64  `json:"time_us"`
	Values    []Value `json:"values"`
}

// Field returns value i, or the zero Value when i is out of range.
func (r Record) Field(i int) Value {
	if i < 0 || i >= len(r.Values) {
		return Value{}
	}
	return r.Values[i]
}

// Point is one (timestamp, value) sample of a field.
type Point struct {
	TimeUS uint64 `json:"time_us"`
	Value  Value  `json:"value"`
}

// Dataset is the decoded flight. It is read-only once Decode returns;
// the anomaly list is computed at most once.
type Dataset struct {
	series  map[string][]Record
	schemas map[string]*Schema
	meta    Metadata

	anomalyOnce sync.Once
	anomalies   []Anomaly
}

var typeAliases = map[string]string{
	"BATT":    "BAT",
	"BAT":     "BATT",
	"BATTERY": "BAT",
}

var fieldAliases = map[string]string{
	"altitude":    "Alt",
	"alt":         "Alt",
	"voltage":     "Volt",
	"volt":        "Volt",
	"speed":       "Spd",
	"groundspeed": "Spd",
	"satellites":  "NSats",
	"sats":        "NSats",
	"temperature": "Temp",
	"current":     "Curr",
	"latitude":    "Lat",
	"longitude":   "Lng",
	"status":      "Status",
}

// ResolveType maps a user supplied message type name onto a type present in
// the dataset: exact, then case-insensitive, then alias.
func (d *Dataset) ResolveType(name string) (string, error) {
	if _, ok := d.schemas[name]; ok {
		return name, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(name))
	if _, ok := d.schemas[upper]; ok {
		return upper, nil
	}
	if alias, ok := typeAliases[upper]; ok {
		if _, ok := d.schemas[alias]; ok {
			return alias, nil
		}
	}
	return "", fmt.Errorf("%w: message type %q not in log", domain.ErrInvalidArguments, name)
}

// ResolveField maps a field name onto a field index of the given schema.
func (d *Dataset) ResolveField(s *Schema, name string) (int, error) {
	if i := s.FieldIndex(name); i >= 0 {
		return i, nil
	}
	for i, f := range s.Fields {
		if strings.EqualFold(f, name) {
			return i, nil
		}
	}
	if alias, ok := fieldAliases[strings.ToLower(name)]; ok {
		if i := s.FieldIndex(alias); i >= 0 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: field %q not in %s (fields: %s)",
		domain.ErrInvalidArguments, name, s.Name, strings.Join(s.Fields, ", "))
}

// Schema returns the schema of a message type by exact name.
func (d *Dataset) Schema(name string) (*Schema, bool) {
	s, ok := d.schemas[name]
	return s, ok
}

// Series returns the time-ordered records of a message type by exact name.
func (d *Dataset) Series(name string) []Record {
	return d.series[name]
}

// MessageTypes returns the names of all types with at least one data record, sorted.
func (d *Dataset) MessageTypes() []string {
	names := make([]string, 0, len(d.series))
	for name, recs := range d.series {
		if len(recs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Metadata returns the summary computed at decode time.
func (d *Dataset) Metadata() Metadata {
	return d.meta
}

// Window returns the records of name whose timestamps fall in [start, end].
// Nil bounds are open.
func (d *Dataset) Window(name string, start, end *uint64) []Record {
	recs := d.series[name]
	lo, hi := 0, len(recs)
	if start != nil {
		lo = sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp >= *start })
	}
	if end != nil {
		hi = sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp > *end })
	}
	if lo >= hi {
		return nil
	}
	return recs[lo:hi]
}

// Points extracts one field of a message type over a time window.
func (d *Dataset) Points(typeName, field string, start, end *uint64) (string, string, []Point, error) {
	name, err := d.ResolveType(typeName)
	if err != nil {
		return "", "", nil, err
	}
	s := d.schemas[name]
	idx, err := d.ResolveField(s, field)
	if err != nil {
		return "", "", nil, err
	}
	recs := d.Window(name, start, end)
	points := make([]Point, len(recs))
	for i, r := range recs {
		points[i] = Point{TimeUS: r.Timestamp, Value: r.Field(idx)}
	}
	return name, s.Fields[idx], points, nil
}

// Anomalies returns the anomaly list, computing it with detect on first use.
func (d *Dataset) Anomalies(detect func(*Dataset) []Anomaly) []Anomaly {
	d.anomalyOnce.Do(func() {
		if detect != nil {
			d.anomalies = detect(d)
		}
		if d.anomalies == nil {
			d.anomalies = []Anomaly{}
		}
	})
	return d.anomalies
}

// numericSeries returns (timestamp, value) pairs for a numeric field, skipping
// non-numeric readings. Missing types or fields yield nil.
func (d *Dataset) numericSeries(typeName, field string) []numericPoint {
	s, ok := d.schemas[typeName]
	if !ok {
		return nil
	}
	idx := s.FieldIndex(field)
	if idx < 0 {
		return nil
	}
	recs := d.series[typeName]
	out := make([]numericPoint, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Field(idx).Float64(); ok {
			out = append(out, numericPoint{t: r.Timestamp, v: v})
		}
	}
	return out
}

// NumericField is the exported form of numericSeries for rule evaluation.
func (d *Dataset) NumericField(typeName, field string) []Point {
	pts := d.numericSeries(typeName, field)
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{TimeUS: p.t, Value: FloatValue(p.v)}
	}
	return out
}

// BatteryType returns the battery message name used by this log.
func (d *Dataset) BatteryType() string {
	for _, name := range []string{"BAT", "BATT"} {
		if len(d.series[name]) > 0 {
			return name
		}
	}
	return ""
}

type numericPoint struct {
	t uint64
	v float64
}
