// Package cli implements the cortexhub command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	apiKey string
)

var rootCmd = &cobra.Command{
	Use:   "cortexhub",
	Short: "Runtime governance for AI agent tool calls",
	Long:  "Intercepts agent tool calls, detects sensitive entities, evaluates policy rules, and escalates risky operations to human approvers.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Decision authority base URL (default CORTEXHUB_API_URL)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the authority (default CORTEXHUB_API_KEY)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
