package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/set-night/skylog/internal/anomaly"
	"github.com/set-night/skylog/internal/telemetry"
	"github.com/set-night/skylog/internal/tools"
)

const defaultDecodeTimeout = time.Minute

var analyzeCmd = &cobra.Command{
	Use:   "analyze <log.bin>",
	Short: "Print flight metadata and rule-based anomalies as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var toolCmd = &cobra.Command{
	Use:   "tool <log.bin> <tool-name> [json-arguments]",
	Short: "Run one catalog tool against a log and print its output",
	Long: `Run one catalog tool exactly as the agent would and print the JSON output.

Available tools: ` + strings.Join(toolNames(), ", "),
	Args: cobra.RangeArgs(2, 3),
	RunE: runTool,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, toolCmd} {
		c.Flags().String("thresholds", "", "YAML file overriding anomaly thresholds")
		c.Flags().Duration("timeout", defaultDecodeTimeout, "Decode timeout")
	}
}

type analyzeOutput struct {
	File         string              `json:"file"`
	Metadata     telemetry.Metadata  `json:"metadata"`
	MessageTypes []string            `json:"message_types"`
	Anomalies    []telemetry.Anomaly `json:"anomalies"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ds, detector, err := loadLog(cmd, args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), analyzeOutput{
		File:         args[0],
		Metadata:     ds.Metadata(),
		MessageTypes: ds.MessageTypes(),
		Anomalies:    ds.Anomalies(detector.Detect),
	})
}

func runTool(cmd *cobra.Command, args []string) error {
	if _, ok := tools.Lookup(args[1]); !ok {
		return fmt.Errorf("unknown tool %q (available: %s)", args[1], strings.Join(toolNames(), ", "))
	}
	raw := json.RawMessage(`{}`)
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("arguments are not valid JSON: %s", args[2])
		}
		raw = json.RawMessage(args[2])
	}

	ds, detector, err := loadLog(cmd, args[0])
	if err != nil {
		return err
	}
	rec, err := tools.NewDispatcher(detector.Detect, nil).Invoke(tools.Call{
		ID:        "cli",
		Name:      args[1],
		Arguments: raw,
	}, ds)
	if err != nil {
		return fmt.Errorf("%s: %w", args[1], err)
	}
	return writeJSON(cmd.OutOrStdout(), rec.Output)
}

func loadLog(cmd *cobra.Command, path string) (*telemetry.Dataset, *anomaly.Detector, error) {
	th := anomaly.Default()
	if file, _ := cmd.Flags().GetString("thresholds"); file != "" {
		var err error
		if th, err = anomaly.LoadFile(file, th); err != nil {
			return nil, nil, fmt.Errorf("load thresholds: %w", err)
		}
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ds, err := telemetry.Decode(ctx, data, telemetry.WithRCLossPWM(th.RCLossPWM))
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ds, anomaly.NewDetector(th), nil
}

func toolNames() []string {
	var names []string
	for _, spec := range tools.Catalog() {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
