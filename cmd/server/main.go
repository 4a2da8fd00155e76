package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wssimple",
		Short: "WebSocket server with connection management and broadcast",
		Long: `wssimple accepts WebSocket connections, keeps a registry of them and
exposes send, broadcast and disconnect operations over an admin API.

Configuration is read from .env and the environment; see "wssimple serve --help".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		tokenCmd(),
		hashKeyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wssimple %s (%s)\n", version, commit)
		},
	}
}
