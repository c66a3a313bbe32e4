// Package main provides the rlm CLI: an offline inspector for the external
// stores the RLM extension keeps under <cwd>/.pi/rlm/<session-id>/.
//
// # Basic Usage
//
// List sessions in the current directory:
//
//	rlm sessions
//
// Inspect a session's store:
//
//	rlm store list --session <id>
//	rlm store show rlm-obj-1a2b3c4d --session <id>
//
// Merge another session's records into one:
//
//	rlm store merge <other-session-dir> --session <id>
//
// Summarize or clean up:
//
//	rlm stats --session <id>
//	rlm purge --days 30
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDir     string
	flagSession string
)

func main() {
	root := &cobra.Command{
		Use:           "rlm",
		Short:         "Inspect RLM external stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", ".", "project directory holding .pi/rlm")
	root.PersistentFlags().StringVar(&flagSession, "session", "", "session id (defaults to the only session present)")

	root.AddCommand(
		newSessionsCmd(),
		newStoreCmd(),
		newStatsCmd(),
		newPurgeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rlm:", err)
		os.Exit(1)
	}
}
