package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/trackgate/internal/queue"
)

var (
	queueListLimit  int
	queueListOffset int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Export queue management commands",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the export queue",
	RunE:  runQueueList,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show export queue statistics",
	RunE:  runQueueStats,
}

var queueQuarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "List quarantined export jobs",
	RunE:  runQueueQuarantine,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Move a quarantined job back to the pending queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a job from the queue or quarantine",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDelete,
}

func init() {
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of jobs to show")
	queueListCmd.Flags().IntVar(&queueListOffset, "offset", 0, "Number of jobs to skip")
	queueQuarantineCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of jobs to show")

	queueCmd.AddCommand(queueListCmd, queueStatsCmd, queueQuarantineCmd, queueRetryCmd, queueDeleteCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueueStorage() (*queue.BoltStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storage, err := queue.NewBoltStorage(cfg.Storage.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open export queue: %w", err)
	}

	return storage, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.List(queueListLimit, queueListOffset)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPARTNER\tSHEET\tENQUEUED\tRETRIES")
	fmt.Fprintln(w, "--\t------\t-------\t-----\t--------\t-------")

	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(job.ID),
			job.Status,
			job.PartnerID,
			job.SheetName,
			job.EnqueuedAt.Format("2006-01-02 15:04"),
			job.RetryCount,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats()
	if err != nil {
		return fmt.Errorf("failed to get queue stats: %w", err)
	}

	fmt.Println("Export Queue Statistics")
	fmt.Println("=======================")
	fmt.Printf("Pending:     %d\n", stats.Pending)
	fmt.Printf("Processing:  %d\n", stats.Processing)
	fmt.Printf("Quarantined: %d\n", stats.Quarantined)

	return nil
}

func runQueueQuarantine(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.ListQuarantine(queueListLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list quarantine: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Quarantine is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUARANTINED\tREASON")
	fmt.Fprintln(w, "--\t-----------\t------")

	for _, job := range jobs {
		reason := job.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			truncateID(job.ID),
			job.QuarantinedAt.Format(time.RFC3339),
			reason,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d quarantined jobs\n", len(jobs))

	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	if err := storage.RetryFromQuarantine(id); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	fmt.Printf("Job %s moved back to pending queue\n", id)
	return nil
}

func runQueueDelete(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]

	job, err := storage.Get(id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job != nil {
		if err := storage.Delete(id); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		fmt.Printf("Job %s deleted from queue\n", id)
		return nil
	}

	if err := storage.DeleteFromQuarantine(id); err != nil {
		return fmt.Errorf("failed to delete job from quarantine: %w", err)
	}

	fmt.Printf("Job %s deleted from quarantine\n", id)
	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
