package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/testutil"
	"github.com/set-night/skylog/internal/tools"
)

type stubDocs map[string]tools.MessageDoc

func (s stubDocs) Lookup(name string) (tools.MessageDoc, bool) {
	d, ok := s[name]
	return d, ok
}

func setup(t *testing.T, data []byte) (*tools.Dispatcher, *telemetry.Dataset) {
	t.Helper()
	ds, err := telemetry.Decode(context.Background(), data)
	require.NoError(t, err)
	docs := stubDocs{"GPS": {Name: "GPS", Description: "GPS position", Fields: map[string]string{"Alt": "altitude"}}}
	return tools.NewDispatcher(anomaly.NewDetector(anomaly.Default()).Detect, docs), ds
}

func invoke(t *testing.T, d *tools.Dispatcher, ds *telemetry.Dataset, name, args string) (domain.ToolCallRecord, map[string]any) {
	t.Helper()
	rec, err := d.Invoke(tools.Call{ID: "call_1", Name: name, Arguments: json.RawMessage(args)}, ds)
	require.NoError(t, err)
	require.Equal(t, domain.ToolStatusOK, rec.Status)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Output, &out))
	return rec, out
}

func TestGetTimeSeriesScenario(t *testing.T) {
	d, ds := setup(t, testutil.ScenarioLog())
	_, out := invoke(t, d, ds, tools.GetTimeSeries, `{"message_type":"GPS","field":"altitude","start_us":500}`)

	assert.Equal(t, "GPS", out["message_type"])
	assert.Equal(t, "Alt", out["field"])
	points := out["points"].([]any)
	require.Len(t, points, 2)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.(map[string]any)["time_us"].(float64), 500.0)
	}
	assert.Equal(t, false, out["downsampled"])
}

func TestGetTimeSeriesDownsamples(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())
	_, out := invoke(t, d, ds, tools.GetTimeSeries, `{"message_type":"BAT","field":"Volt","max_points":3}`)

	assert.Equal(t, true, out["downsampled"])
	assert.Equal(t, 10.0, out["total"])
	points := out["points"].([]any)
	require.Len(t, points, 3)
	assert.Equal(t, 1_000_000.0, points[0].(map[string]any)["time_us"])
	assert.Equal(t, 10_000_000.0, points[2].(map[string]any)["time_us"])
}

func TestQueryFlightData(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())

	_, out := invoke(t, d, ds, tools.QueryFlightData, `{"field_path":"metadata"}`)
	assert.Equal(t, 9.0, out["duration_seconds"])

	_, out = invoke(t, d, ds, tools.QueryFlightData, `{"field_path":"metadata.gps_loss_count"}`)
	assert.Equal(t, map[string]any{"gps_loss_count": 1.0}, out)

	_, out = invoke(t, d, ds, tools.QueryFlightData, `{"field_path":"GPS.Alt","start_us":2000000,"end_us":4000000}`)
	assert.Equal(t, 3.0, out["count"])
	assert.InDelta(t, 105, out["min"], 1e-9)
	assert.InDelta(t, 115, out["max"], 1e-9)
	assert.InDelta(t, 110, out["mean"], 1e-9)
	assert.Equal(t, 4_000_000.0, out["max_time_us"])
	assert.Equal(t, "m", out["unit"])
}

func TestDetectAnomaliesTool(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())

	_, out := invoke(t, d, ds, tools.DetectAnomalies, `{}`)
	assert.Equal(t, 6.0, out["count"])

	_, out = invoke(t, d, ds, tools.DetectAnomalies, `{"category":"gps"}`)
	assert.Equal(t, 1.0, out["count"])

	_, out = invoke(t, d, ds, tools.DetectAnomalies, ``)
	assert.Equal(t, 6.0, out["count"])

	_, ds = setup(t, testutil.ScenarioLog())
	_, out = invoke(t, d, ds, tools.DetectAnomalies, `{}`)
	assert.Equal(t, []any{}, out["anomalies"])
}

func TestGetMessageData(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())
	_, out := invoke(t, d, ds, tools.GetMessageData, `{"message_type":"mode","limit":5}`)

	assert.Equal(t, "MODE", out["message_type"])
	assert.Equal(t, 2.0, out["returned"])
	records := out["records"].([]any)
	assert.Equal(t, 5.0, records[1].(map[string]any)["Mode"])
}

func TestDescribeMessage(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())

	_, out := invoke(t, d, ds, tools.DescribeMessage, `{}`)
	assert.Len(t, out["message_types"], 9)

	_, out = invoke(t, d, ds, tools.DescribeMessage, `{"message_type":"GPS"}`)
	assert.Equal(t, "GPS position", out["description"])
	fields := out["fields"].([]any)
	alt := fields[5].(map[string]any)
	assert.Equal(t, "Alt", alt["name"])
	assert.Equal(t, "m", alt["unit"])
	assert.Equal(t, "altitude", alt["description"])
}

func TestInvokeErrors(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())

	cases := []struct {
		name, tool, args string
		ds               *telemetry.Dataset
		want             error
	}{
		{"unknown tool", "rm_rf", `{}`, ds, domain.ErrUnknownTool},
		{"no dataset", tools.DetectAnomalies, `{}`, nil, domain.ErrNoDataset},
		{"missing required", tools.GetTimeSeries, `{"message_type":"GPS"}`, ds, domain.ErrInvalidArguments},
		{"unknown argument", tools.DetectAnomalies, `{"verbose":true}`, ds, domain.ErrInvalidArguments},
		{"wrong type", tools.GetTimeSeries, `{"message_type":"GPS","field":"Alt","start_us":"5"}`, ds, domain.ErrInvalidArguments},
		{"fractional integer", tools.GetTimeSeries, `{"message_type":"GPS","field":"Alt","start_us":1.5}`, ds, domain.ErrInvalidArguments},
		{"enum", tools.DetectAnomalies, `{"category":"weather"}`, ds, domain.ErrInvalidArguments},
		{"bounds", tools.GetTimeSeries, `{"message_type":"GPS","field":"Alt","max_points":0}`, ds, domain.ErrInvalidArguments},
		{"reversed range", tools.GetTimeSeries, `{"message_type":"GPS","field":"Alt","start_us":9,"end_us":3}`, ds, domain.ErrInvalidArguments},
		{"after flight", tools.GetTimeSeries, `{"message_type":"GPS","field":"Alt","start_us":99000000}`, ds, domain.ErrInvalidArguments},
		{"unknown type", tools.GetTimeSeries, `{"message_type":"XYZ","field":"Alt"}`, ds, domain.ErrInvalidArguments},
		{"unknown field", tools.QueryFlightData, `{"field_path":"GPS.Nope"}`, ds, domain.ErrInvalidArguments},
		{"bad path", tools.QueryFlightData, `{"field_path":"GPS"}`, ds, domain.ErrInvalidArguments},
		{"unknown metadata key", tools.QueryFlightData, `{"field_path":"metadata.weather"}`, ds, domain.ErrInvalidArguments},
		{"not an object", tools.QueryFlightData, `[1,2]`, ds, domain.ErrInvalidArguments},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := d.Invoke(tools.Call{ID: "c", Name: tc.tool, Arguments: json.RawMessage(tc.args)}, tc.ds)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, domain.ToolStatusError, rec.Status)
			assert.Equal(t, tc.tool, rec.Name)

			var out map[string]string
			require.NoError(t, json.Unmarshal(rec.Output, &out))
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestInvokeDoesNotMutateDataset(t *testing.T) {
	d, ds := setup(t, testutil.FlightLog())
	before, err := json.Marshal(ds.Metadata())
	require.NoError(t, err)
	gpsBefore := len(ds.Series("GPS"))

	for _, spec := range tools.Catalog() {
		_, _ = d.Invoke(tools.Call{Name: spec.Name, Arguments: json.RawMessage(`{}`)}, ds)
	}

	after, err := json.Marshal(ds.Metadata())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, gpsBefore, len(ds.Series("GPS")))
}

func TestCatalogSchema(t *testing.T) {
	specs := tools.Catalog()
	require.Len(t, specs, 5)

	spec, ok := tools.Lookup(tools.GetTimeSeries)
	require.True(t, ok)
	schema := spec.JSONSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"message_type", "field"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])

	_, err := json.Marshal(schema)
	assert.NoError(t, err)
}
