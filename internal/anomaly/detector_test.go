package anomaly_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/testutil"
)

func decode(t *testing.T, data []byte) *telemetry.Dataset {
	t.Helper()
	ds, err := telemetry.Decode(context.Background(), data)
	require.NoError(t, err)
	return ds
}

func TestDetectFlight(t *testing.T) {
	ds := decode(t, testutil.FlightLog())
	got := anomaly.NewDetector(anomaly.Default()).Detect(ds)

	type summary struct {
		category string
		start    uint64
		end      uint64
		severity telemetry.Severity
	}
	var sums []summary
	for _, a := range got {
		sums = append(sums, summary{a.Category, a.StartUS, a.EndUS, a.Severity})
	}
	assert.Equal(t, []summary{
		{anomaly.CategoryAltitude, 4_000_000, 5_000_000, telemetry.SeverityHigh},
		{anomaly.CategoryBattery, 5_000_000, 6_000_000, telemetry.SeverityHigh},
		{anomaly.CategoryGPS, 7_000_000, 7_000_000, telemetry.SeverityMedium},
		{anomaly.CategoryVibration, 8_000_000, 8_000_000, telemetry.SeverityHigh},
		{anomaly.CategoryError, 9_000_000, 9_000_000, telemetry.SeverityMedium},
		{anomaly.CategoryRC, 10_000_000, 10_000_000, telemetry.SeverityHigh},
	}, sums)

	alt := got[0]
	require.Len(t, alt.Evidence, 1)
	assert.InDelta(t, 145, alt.Evidence[0].Value, 1e-9)
	require.NotNil(t, alt.Evidence[0].Delta)
	assert.InDelta(t, 30, *alt.Evidence[0].Delta, 1e-9)
	assert.Contains(t, alt.Description, "30.0 m/s")

	assert.Equal(t, "VibeX", got[3].Evidence[0].Field)
}

func TestDetectIsDeterministic(t *testing.T) {
	ds := decode(t, testutil.FlightLog())
	det := anomaly.NewDetector(anomaly.Default())
	assert.Equal(t, det.Detect(ds), det.Detect(ds))
}

func TestDetectEmpty(t *testing.T) {
	ds := decode(t, testutil.ScenarioLog())
	got := anomaly.NewDetector(anomaly.Default()).Detect(ds)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, anomaly.NewDetector(anomaly.Default()).Detect(nil))
}

func TestDetectMergesConsecutiveSamples(t *testing.T) {
	b := testutil.NewLogBuilder()
	b.FMT(testutil.TypeVIBE, "VIBE", "QBfffI", testutil.Labels("TimeUS", "IMU", "VibeX", "VibeY", "VibeZ", "Clip"))
	for i, v := range []float64{5, 35, 65, 40, 5, 45} {
		b.Record(testutil.TypeVIBE, uint64(i+1)*100_000, 0, 1.0, 2.0, v, 0)
	}
	th := anomaly.Default()
	th.MaxEvidence = 2
	got := anomaly.NewDetector(th).Detect(decode(t, b.Bytes()))

	require.Len(t, got, 2)
	first := got[0]
	assert.Equal(t, uint64(200_000), first.StartUS)
	assert.Equal(t, uint64(400_000), first.EndUS)
	assert.Equal(t, 3, first.Samples)
	assert.Equal(t, telemetry.SeverityHigh, first.Severity)
	assert.Len(t, first.Evidence, 2)
	assert.Equal(t, "VibeZ", first.Evidence[0].Field)
	assert.Contains(t, first.Description, "65.0")

	assert.Equal(t, telemetry.SeverityMedium, got[1].Severity)
	assert.Equal(t, 1, got[1].Samples)
}

func TestThresholdsChangeOutcome(t *testing.T) {
	ds := decode(t, testutil.FlightLog())
	th := anomaly.Default()
	th.Vibration = 80
	th.VibrationHigh = 90
	th.AltitudeRate = 40
	th.AltitudeRateHigh = 50
	for _, a := range anomaly.NewDetector(th).Detect(ds) {
		assert.NotEqual(t, anomaly.CategoryVibration, a.Category)
		assert.NotEqual(t, anomaly.CategoryAltitude, a.Category)
	}
}

func TestAttitudeWrapsAround(t *testing.T) {
	b := testutil.NewLogBuilder()
	b.FMT(testutil.TypeATT, "ATT", "QccccCC", testutil.Labels("TimeUS", "DesRoll", "Roll", "DesPitch", "Pitch", "DesYaw", "Yaw"))
	b.Record(testutil.TypeATT, uint64(1_000_000), 0.0, 179.0, 0.0, 0.0, 0.0, 0.0)
	b.Record(testutil.TypeATT, uint64(1_100_000), 0.0, -179.0, 0.0, 0.0, 0.0, 0.0)
	b.Record(testutil.TypeATT, uint64(1_200_000), 0.0, 100.0, 0.0, 0.0, 0.0, 0.0)

	got := anomaly.NewDetector(anomaly.Default()).Detect(decode(t, b.Bytes()))
	require.Len(t, got, 1)
	assert.Equal(t, anomaly.CategoryAttitude, got[0].Category)
	assert.Equal(t, uint64(1_100_000), got[0].StartUS)
	assert.Equal(t, telemetry.SeverityHigh, got[0].Severity)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vibration: 40\nvibration_high: 70\n"), 0o600))

	th, err := anomaly.LoadFile(path, anomaly.Default())
	require.NoError(t, err)
	assert.Equal(t, 40.0, th.Vibration)
	assert.Equal(t, 70.0, th.VibrationHigh)
	assert.Equal(t, 10.0, th.AltitudeRate)

	require.NoError(t, os.WriteFile(path, []byte("vibration: 40\nvibration_high: 20\n"), 0o600))
	_, err = anomaly.LoadFile(path, anomaly.Default())
	assert.ErrorContains(t, err, "vibration_high")

	_, err = anomaly.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), anomaly.Default())
	assert.Error(t, err)
}
