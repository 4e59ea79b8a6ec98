package tools

import (
	"slices"

	"github.com/set-night/skylog/internal/telemetry"
)

type TimeSeries struct {
	MessageType string            `json:"message_type"`
	Field       string            `json:"field"`
	Unit        string            `json:"unit,omitempty"`
	Total       int               `json:"total"`
	Count       int               `json:"count"`
	Downsampled bool              `json:"downsampled"`
	Points      []telemetry.Point `json:"points"`
}

func (d *Dispatcher) getTimeSeries(ds *telemetry.Dataset, args Args) (any, error) {
	typ, _ := args.String("message_type")
	field, _ := args.String("field")
	maxPoints := int64(defaultMaxPoints)
	if v, ok := args.Int("max_points"); ok {
		maxPoints = v
	}

	name, fieldName, pts, err := ds.Points(typ, field, args.Uint("start_us"), args.Uint("end_us"))
	if err != nil {
		return nil, err
	}
	out := TimeSeries{
		MessageType: name,
		Field:       fieldName,
		Total:       len(pts),
		Points:      downsample(pts, int(maxPoints)),
	}
	out.Count = len(out.Points)
	out.Downsampled = out.Count < out.Total
	if s, ok := ds.Schema(name); ok {
		out.Unit = s.Unit(s.FieldIndex(fieldName))
	}
	return out, nil
}

// downsample picks n evenly spaced points, keeping the first and last.
func downsample(pts []telemetry.Point, n int) []telemetry.Point {
	if pts == nil {
		return []telemetry.Point{}
	}
	if n <= 0 || len(pts) <= n {
		return pts
	}
	if n == 1 {
		return pts[:1]
	}
	out := make([]telemetry.Point, n)
	last := len(pts) - 1
	for i := range out {
		out[i] = pts[i*last/(n-1)]
	}
	return out
}

type MessageRecords struct {
	MessageType string                       `json:"message_type"`
	Fields      []string                     `json:"fields"`
	Units       []string                     `json:"units,omitempty"`
	Total       int                          `json:"total"`
	Returned    int                          `json:"returned"`
	Records     []map[string]telemetry.Value `json:"records"`
}

func (d *Dispatcher) getMessageData(ds *telemetry.Dataset, args Args) (any, error) {
	typ, _ := args.String("message_type")
	limit := int64(defaultLimit)
	if v, ok := args.Int("limit"); ok {
		limit = v
	}
	name, err := ds.ResolveType(typ)
	if err != nil {
		return nil, err
	}
	s, _ := ds.Schema(name)
	recs := ds.Window(name, args.Uint("start_us"), nil)

	out := MessageRecords{
		MessageType: name,
		Fields:      slices.Clone(s.Fields),
		Units:       slices.Clone(s.Units),
		Total:       len(recs),
		Records:     []map[string]telemetry.Value{},
	}
	for i, r := range recs {
		if int64(i) >= limit {
			break
		}
		row := make(map[string]telemetry.Value, len(s.Fields))
		for j, f := range s.Fields {
			row[f] = r.Field(j)
		}
		out.Records = append(out.Records, row)
	}
	out.Returned = len(out.Records)
	return out, nil
}

type AnomalyReport struct {
	Category  string              `json:"category,omitempty"`
	Count     int                 `json:"count"`
	Anomalies []telemetry.Anomaly `json:"anomalies"`
}

func (d *Dispatcher) detectAnomalies(ds *telemetry.Dataset, args Args) (any, error) {
	all := ds.Anomalies(d.detect)
	category, _ := args.String("category")
	out := AnomalyReport{Category: category, Anomalies: []telemetry.Anomaly{}}
	for _, a := range all {
		if category == "" || a.Category == category {
			out.Anomalies = append(out.Anomalies, a)
		}
	}
	out.Count = len(out.Anomalies)
	return out, nil
}
