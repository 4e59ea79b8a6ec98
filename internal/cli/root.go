// Package cli is the skylog command line: the long-running server plus
// offline commands that work on a log file without a model.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skylog",
	Short: "Conversational analysis of ArduPilot flight logs",
	Long: `skylog decodes ArduPilot DataFlash (.bin) logs, flags anomalies with rule
checks and lets a language model answer questions about a flight through a
small catalog of data tools.

Run "skylog serve" for the HTTP API and Telegram bot, or use "analyze" and
"tool" to inspect a log locally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(toolCmd)
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
