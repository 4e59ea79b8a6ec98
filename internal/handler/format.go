package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/set-night/skylog/internal/domain"
	"github.com/set-night/skylog/internal/service"
	tg "github.com/set-night/skylog/internal/telegram"
	"github.com/set-night/skylog/internal/telemetry"
)

const (
	noFlightText       = "📭 No flight is loaded. Send a .bin DataFlash log first."
	maxListedAnomalies = 15
)

func formatMetadata(m telemetry.Metadata) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏱ Duration: %.1f s (%.1f min)\n", m.DurationSeconds, m.DurationSeconds/60)
	if m.Altitude != nil {
		fmt.Fprintf(&sb, "🏔 Altitude: %.1f to %.1f m\n", m.Altitude.Min, m.Altitude.Max)
	}
	if m.GroundSpeed != nil {
		fmt.Fprintf(&sb, "💨 Ground speed: up to %.1f m/s\n", m.GroundSpeed.Max)
	}
	if m.BatteryVoltage != nil {
		fmt.Fprintf(&sb, "🔋 Battery: %.2f to %.2f V\n", m.BatteryVoltage.Min, m.BatteryVoltage.Max)
	}
	fmt.Fprintf(&sb, "📨 Messages: %d of %d types\n", m.TotalMessages, len(m.MessageCounts))
	if m.SkippedRecords > 0 {
		fmt.Fprintf(&sb, "🩹 Skipped records: %d\n", m.SkippedRecords)
	}
	if m.ErrorCount > 0 {
		fmt.Fprintf(&sb, "🚨 Logged errors: %d\n", m.ErrorCount)
	}
	if m.GPSLossCount > 0 {
		fmt.Fprintf(&sb, "🛰 Samples without 3D fix: %d\n", m.GPSLossCount)
	}
	if m.RCLossCount > 0 {
		fmt.Fprintf(&sb, "📡 RC loss samples: %d\n", m.RCLossCount)
	}
	return sb.String()
}

func formatInfo(info service.SessionInfo) string {
	var sb strings.Builder
	sb.WriteString("ℹ️ *Session*\n\n")
	if info.Metadata != nil {
		fmt.Fprintf(&sb, "📄 %s\n", tg.EscapeMarkdown(info.FileName))
		sb.WriteString(formatMetadata(*info.Metadata))
		fmt.Fprintf(&sb, "⚠️ Anomalies: %d\n", info.AnomalyCount)
	}
	fmt.Fprintf(&sb, "💬 Turns: %d\n", info.TurnCount)
	fmt.Fprintf(&sb, "🧮 Tokens: %d in / %d out, cost $%s",
		info.Usage.PromptTokens, info.Usage.CompletionTokens, info.Usage.Cost.StringFixed(4))
	return sb.String()
}

func formatAnomalies(list []telemetry.Anomaly) string {
	if len(list) == 0 {
		return "✅ No anomalies were flagged by the rule checks."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ *%d anomalies*\n", len(list))
	for i, a := range list {
		if i == maxListedAnomalies {
			fmt.Fprintf(&sb, "\n…and %d more.", len(list)-maxListedAnomalies)
			break
		}
		fmt.Fprintf(&sb, "\n%s *%s* at %s: %s",
			severityIcon(a.Severity), a.Category, formatSpan(a.StartUS, a.EndUS), tg.EscapeMarkdown(a.Description))
	}
	return sb.String()
}

func formatSpan(start, end uint64) string {
	if start == end {
		return fmt.Sprintf("%.1f s", float64(start)/1e6)
	}
	return fmt.Sprintf("%.1f–%.1f s", float64(start)/1e6, float64(end)/1e6)
}

func severityIcon(s telemetry.Severity) string {
	switch s {
	case telemetry.SeverityHigh:
		return "🔴"
	case telemetry.SeverityMedium:
		return "🟠"
	default:
		return "🟡"
	}
}

// userMessage turns a service error into something a chat user can act on.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformedLog):
		return "❌ This file is not a readable DataFlash log."
	case errors.Is(err, domain.ErrLogTooLarge):
		return "❌ The log is too large."
	case errors.Is(err, domain.ErrDecodeTimeout):
		return "⏳ Decoding took too long. Please try again."
	case errors.Is(err, domain.ErrSessionNotFound):
		return "⌛ Your session has expired. Send the log again."
	case errors.Is(err, domain.ErrNoDataset):
		return noFlightText
	default:
		return "❌ Something went wrong. Please try again."
	}
}
