package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deskmate-ai/deskmate/internal/cli"
	"github.com/deskmate-ai/deskmate/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskmated",
		Short: "Deskmate daemon",
		Long:  "Deskmate daemon for running the IT support assistant API server",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
