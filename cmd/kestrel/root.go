package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kestrel",
		Short: "Kestrel - behavioral evaluation harness for LLMs",
		Long: `Kestrel runs behavioral evaluations against language models.

It executes test suites across multiple models, scores the outputs with
pluggable evaluators, and drives scripted multi-turn conversations to
measure verbosity drift.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newConverseCommand())
	cmd.AddCommand(newEvaluatorsCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
