package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/testutil"
)

func writeLog(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flight.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAnalyze(t *testing.T) {
	path := writeLog(t, testutil.FlightLog())

	out, err := execute(t, "analyze", path)
	require.NoError(t, err)

	var got struct {
		Metadata struct {
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"metadata"`
		MessageTypes []string          `json:"message_types"`
		Anomalies    []json.RawMessage `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 9.0, got.Metadata.DurationSeconds, 1e-9)
	assert.Contains(t, got.MessageTypes, "GPS")
	assert.Len(t, got.Anomalies, 6)
}

func TestAnalyzeErrors(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)

	_, err = execute(t, "analyze", writeLog(t, []byte("not a log")))
	assert.ErrorContains(t, err, "malformed")
}

func TestTool(t *testing.T) {
	path := writeLog(t, testutil.FlightLog())

	out, err := execute(t, "tool", path, "query_flight_data", `{"field_path":"metadata"}`)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	assert.Contains(t, meta, "duration_seconds")

	out, err = execute(t, "tool", path, "detect_anomalies", `{"category":"gps"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"gps"`)
}

func TestToolErrors(t *testing.T) {
	path := writeLog(t, testutil.FlightLog())

	_, err := execute(t, "tool", path, "no_such_tool")
	assert.ErrorContains(t, err, "unknown tool")

	_, err = execute(t, "tool", path, "get_time_series", "{broken")
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = execute(t, "tool", path, "get_time_series", `{"message_type":"NOPE","field":"Alt"}`)
	assert.ErrorContains(t, err, "get_time_series")
}
