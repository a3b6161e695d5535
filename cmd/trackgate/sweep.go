package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/sheets"
	"github.com/foxzi/trackgate/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one export sweep and exit",
	Long:  `Drain pending export jobs to Google Sheets once. Useful for cron setups that run the sweeper outside the server process.`,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	storage, err := queue.NewBoltStorage(cfg.Storage.QueuePath)
	if err != nil {
		return fmt.Errorf("failed to open export queue: %w", err)
	}
	defer storage.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sweeper := sweep.New(logger, storage, sheets.New(), cfg.Sweep.BatchSize)

	exported, quarantined, err := sweeper.Sweep(context.Background())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("Sweep complete: %d exported, %d quarantined\n", exported, quarantined)
	return nil
}
