package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deskmate-ai/deskmate/internal/cli"
	"github.com/deskmate-ai/deskmate/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskmate",
		Short: "Deskmate CLI - internal IT support assistant",
		Long: `Deskmate CLI asks the support assistant questions and manages feedback.

Environment variables:
  DESKMATE_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.FeedbackCmd())
	rootCmd.AddCommand(client.StatsCmd())
	rootCmd.AddCommand(client.HealthCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
