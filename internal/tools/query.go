package tools

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/set-night/skylog/internal/telemetry"
)

const maxDistinct = 50

// FieldSummary aggregates one field over a time window.
type FieldSummary struct {
	MessageType string           `json:"message_type"`
	Field       string           `json:"field"`
	Unit        string           `json:"unit,omitempty"`
	Count       int              `json:"count"`
	Min         *float64         `json:"min,omitempty"`
	MinTimeUS   *uint64          `json:"min_time_us,omitempty"`
	Max         *float64         `json:"max,omitempty"`
	MaxTimeUS   *uint64          `json:"max_time_us,omitempty"`
	Mean        *float64         `json:"mean,omitempty"`
	StdDev      *float64         `json:"stddev,omitempty"`
	First       *telemetry.Point `json:"first,omitempty"`
	Last        *telemetry.Point `json:"last,omitempty"`
	Distinct    []string         `json:"distinct,omitempty"`
}

func (d *Dispatcher) queryFlightData(ds *telemetry.Dataset, args Args) (any, error) {
	path, _ := args.String("field_path")

	if path == "metadata" {
		return ds.Metadata(), nil
	}
	if key, ok := strings.CutPrefix(path, "metadata."); ok {
		return metadataKey(ds.Metadata(), key)
	}

	typ, field, ok := strings.Cut(path, ".")
	if !ok || typ == "" || field == "" {
		return nil, invalid("field_path must be metadata, metadata.<key> or MESSAGE.Field, got %q", path)
	}
	name, fieldName, pts, err := ds.Points(typ, field, args.Uint("start_us"), args.Uint("end_us"))
	if err != nil {
		return nil, err
	}
	summary := summarize(pts)
	summary.MessageType = name
	summary.Field = fieldName
	if s, ok := ds.Schema(name); ok {
		summary.Unit = s.Unit(s.FieldIndex(fieldName))
	}
	return summary, nil
}

func metadataKey(meta telemetry.Metadata, key string) (any, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	v, ok := fields[key]
	if !ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, invalid("unknown metadata key %q (available: %s)", key, strings.Join(keys, ", "))
	}
	return map[string]json.RawMessage{key: v}, nil
}

func summarize(pts []telemetry.Point) FieldSummary {
	s := FieldSummary{Count: len(pts)}
	if len(pts) == 0 {
		return s
	}
	first, last := pts[0], pts[len(pts)-1]
	s.First, s.Last = &first, &last

	var (
		n          int
		sum, sumSq float64
		lo, hi     = math.Inf(1), math.Inf(-1)
		loT, hiT   uint64
		distinct   = map[string]bool{}
	)
	for _, p := range pts {
		if p.Value.Kind == telemetry.KindText {
			if len(distinct) < maxDistinct {
				distinct[p.Value.Text] = true
			}
			continue
		}
		v, ok := p.Value.Float64()
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		n++
		sum += v
		sumSq += v * v
		if v < lo {
			lo, loT = v, p.TimeUS
		}
		if v > hi {
			hi, hiT = v, p.TimeUS
		}
	}

	if n > 0 {
		mean := sum / float64(n)
		std := math.Sqrt(math.Max(sumSq/float64(n)-mean*mean, 0))
		s.Min, s.Max, s.Mean, s.StdDev = &lo, &hi, &mean, &std
		s.MinTimeUS, s.MaxTimeUS = &loT, &hiT
	}
	for v := range distinct {
		s.Distinct = append(s.Distinct, v)
	}
	sort.Strings(s.Distinct)
	return s
}
