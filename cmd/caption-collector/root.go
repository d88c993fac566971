package main

import (
	"fmt"
	"os"

	"github.com/fankserver/caption-collector/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "caption-collector",
	Short: "Collect timed text from live captions or transcribed audio",
	Long: `caption-collector samples the captions of a live page, or records audio in
fixed chunks and transcribes them, and turns the result into a clean list of
timed, de-duplicated segments.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// stdout carries results and the MCP protocol
		config.SetupLogging(os.Stderr)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(benchCmd)
}
