// Command ingestor subscribes to the broker, normalises and
// deduplicates tag-read events, and stages them for the Gateway to
// forward.
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
		Use:   "ingestor",
		Short: "RFID tag-read ingestion pipeline: broker subscriber and deduplicator",
	}
	rootCmd.PersistentFlags().String("home", "", "state directory (default: platform config dir)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestor until terminated",
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
