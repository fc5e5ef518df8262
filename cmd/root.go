// Package cmd contains the caseforge CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caseforge",
	Short: "Caseforge - knowledge ingestion and test case generation service",
	Long: `Caseforge ingests test case spreadsheets into a searchable knowledge base
and generates new test cases for work items using retrieval-augmented LLM
completion.

Run 'caseforge serve' to start the HTTP API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
