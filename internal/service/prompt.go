package service

import (
	"fmt"
	"strings"

	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/tools"
)

const basePrompt = `You are an expert UAV flight analyst working with ArduPilot DataFlash telemetry.
You help users understand their flight logs, find problems and judge flight performance.

Use the tools to read real values from the log before you state any number. Never guess data.
Timestamps are microseconds since boot (time_us); convert them to seconds when you talk to the user.
Anomalies come from fixed threshold rules. Treat them as evidence to explain, not as a diagnosis,
and say when something is normal (for example a fast descent during landing).

Common message types:
- GPS: position, altitude (Alt), ground speed (Spd), satellites (NSats), fix status (Status)
- BAT/BATT: battery voltage (Volt), current (Curr), temperature (Temp)
- ATT: roll, pitch, yaw and their desired values
- VIBE: vibration per axis (VibeX, VibeY, VibeZ) and clipping
- ERR: subsystem error codes
- MODE: flight mode changes
- RCIN/RCOU: RC input channels and servo outputs

Be specific and cite values with their time. Highlight safety-critical issues.
Ask a clarifying question when the request is ambiguous.`

const maxPromptTypes = 20

// finalRoundInstruction is appended when the tool budget of a turn is spent.
const finalRoundInstruction = `
The tool budget for this question is used up. Do not request more tools.
Answer now from the tool results above, and say clearly which parts remain unverified.`

// BuildSystemPrompt renders the system prompt with the flight context.
func BuildSystemPrompt(ds *telemetry.Dataset, anomalyCount int) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	fmt.Fprintf(&b, "\n\nTool catalog version: %s.", tools.Version)

	if ds == nil {
		b.WriteString("\n\nNo flight log is loaded. Ask the user to upload a .bin file first.")
		return b.String()
	}

	meta := ds.Metadata()
	types := ds.MessageTypes()
	if len(types) > maxPromptTypes {
		types = append(types[:maxPromptTypes:maxPromptTypes], "...")
	}

	b.WriteString("\n\nCurrent log context:")
	fmt.Fprintf(&b, "\n- Flight duration: %.1f s (%.1f min), time_us %d to %d",
		meta.DurationSeconds, meta.DurationSeconds/60, meta.StartTimeUS, meta.EndTimeUS)
	if meta.Altitude != nil {
		fmt.Fprintf(&b, "\n- Altitude range: %.1f to %.1f m", meta.Altitude.Min, meta.Altitude.Max)
	}
	if meta.BatteryVoltage != nil {
		fmt.Fprintf(&b, "\n- Battery voltage: %.2f to %.2f V", meta.BatteryVoltage.Min, meta.BatteryVoltage.Max)
	}
	fmt.Fprintf(&b, "\n- Message types: %s", strings.Join(types, ", "))
	fmt.Fprintf(&b, "\n- Total messages: %d", meta.TotalMessages)
	if meta.SkippedRecords > 0 {
		fmt.Fprintf(&b, "\n- Skipped records: %d (damaged or unknown)", meta.SkippedRecords)
	}
	if meta.ErrorCount > 0 {
		fmt.Fprintf(&b, "\n- Errors logged: %d", meta.ErrorCount)
	}
	if meta.GPSLossCount > 0 {
		fmt.Fprintf(&b, "\n- GPS issues: %d sample(s) without a 3D fix", meta.GPSLossCount)
	}
	if meta.RCLossCount > 0 {
		fmt.Fprintf(&b, "\n- RC issues: %d RC signal loss sample(s)", meta.RCLossCount)
	}
	fmt.Fprintf(&b, "\n- Rule-based anomalies: %d (use detect_anomalies for details)", anomalyCount)
	return b.String()
}
