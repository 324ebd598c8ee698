// Copyright (C) 2025 AnswerDock (maintainers@answerdock.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/answerdock/answerdock/pkg/logging"
)

var (
	serverURL string
	verbose   bool

	logger = logging.Default()
)

var rootCmd = &cobra.Command{
	Use:   "answerdockctl",
	Short: "Command line client for the AnswerDock document Q&A service",
	Long: `answerdockctl talks to a running AnswerDock orchestrator.

Upload page-split documents, list and remove them, and ask questions
that stream back with page-level citations.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:12210",
		"Base URL of the AnswerDock orchestrator")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		if l, err := logging.New(logging.Config{Level: level, Service: "answerdockctl"}); err == nil {
			logger = l
		}
	}

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(docsCmd)
}
