// Command gateway authenticates against the remote document store,
// forwards staged tag-read events to it, and serves the location
// configuration and control endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"tagbridge/internal/logging"
)

var version = "dev"

func main() {
	verbose := os.Getenv("VERBOSE") == "1"
	timestamps := os.Getenv("LOG_ENABLE_TIMESTAMP") != "0"
	colored := os.Getenv("LOG_ENABLE_COLORED_OUTPUT") == "1"
	logger := slog.New(logging.NewHandler(os.Stderr, verbose, timestamps, colored))

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Auth, forwarding, and control API for the remote document store",
	}
	rootCmd.PersistentFlags().String("home", "", "state directory (default: platform config dir)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger, homeFlag)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}
