// Package sweep drains the export queue into partner spreadsheets. It runs
// independently of the request pipeline: as a periodic loop inside the
// server or as a one-shot CLI invocation.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/foxzi/trackgate/internal/metrics"
	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/sheets"
)

// DefaultBatchSize caps how many jobs one sweep takes off the queue
const DefaultBatchSize = 20

// Sweeper claims export jobs and writes them to their destination sheets.
// A job that fails for any reason is quarantined and the sweep moves on;
// one poison job never stalls the queue.
type Sweeper struct {
	logger    *slog.Logger
	storage   *queue.BoltStorage
	sheets    *sheets.Client
	batchSize int
}

func New(logger *slog.Logger, storage *queue.BoltStorage, client *sheets.Client, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		logger:    logger.With("component", "sweep"),
		storage:   storage,
		sheets:    client,
		batchSize: batchSize,
	}
}

// Start runs sweeps on a fixed interval until the context is cancelled
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("sweeper started", "interval", interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			exported, quarantined, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if exported > 0 || quarantined > 0 {
				s.logger.Info("sweep complete", "exported", exported, "quarantined", quarantined)
			}
		}
	}
}

// Sweep processes one batch. It returns how many jobs were exported and
// how many were quarantined; the error covers queue access only, never an
// individual job.
func (s *Sweeper) Sweep(ctx context.Context) (exported, quarantined int, err error) {
	batch, err := s.storage.ClaimBatch(s.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to claim batch: %w", err)
	}

	for _, job := range batch {
		if err := ctx.Err(); err != nil {
			return exported, quarantined, err
		}

		if err := s.export(ctx, job); err != nil {
			s.logger.Warn("export failed, quarantining job",
				"job_id", job.ID,
				"partner_id", job.PartnerID,
				"error", err)
			if qerr := s.storage.Quarantine(job, err.Error()); qerr != nil {
				s.logger.Error("failed to quarantine job", "job_id", job.ID, "error", qerr)
			}
			metrics.IncExportQuarantined()
			quarantined++
			continue
		}

		if err := s.storage.Delete(job.ID); err != nil {
			s.logger.Error("failed to delete exported job", "job_id", job.ID, "error", err)
		}
		metrics.IncExportDelivered()
		exported++
	}

	if stats, err := s.storage.Stats(); err == nil {
		metrics.SetQueueGauges(stats.Pending, stats.Quarantined)
	}

	return exported, quarantined, nil
}

func (s *Sweeper) export(ctx context.Context, job *queue.ExportJob) error {
	if job.SpreadsheetID == "" || job.CredentialsJSON == "" {
		return fmt.Errorf("job has no export destination")
	}
	sheetName := job.SheetName
	if sheetName == "" {
		sheetName = "Sheet1"
	}

	header, err := s.sheets.Header(ctx, job.CredentialsJSON, job.SpreadsheetID, sheetName)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	merged, changed := mergeHeader(header, job)
	if changed {
		if err := s.sheets.UpdateHeader(ctx, job.CredentialsJSON, job.SpreadsheetID, sheetName, merged); err != nil {
			return fmt.Errorf("failed to update header: %w", err)
		}
	}

	row := make([]string, len(merged))
	for i, column := range merged {
		row[i] = job.Row[column]
	}
	if err := s.sheets.AppendRow(ctx, job.CredentialsJSON, job.SpreadsheetID, sheetName, row); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	return nil
}

// mergeHeader appends the job's columns that the sheet does not have yet.
// Existing columns keep their position so historical data stays aligned.
func mergeHeader(header []string, job *queue.ExportJob) (merged []string, changed bool) {
	present := make(map[string]bool, len(header))
	for _, column := range header {
		present[column] = true
	}

	merged = append(merged, header...)
	for _, column := range jobColumns(job) {
		if !present[column] {
			merged = append(merged, column)
			present[column] = true
			changed = true
		}
	}
	return merged, changed
}

func jobColumns(job *queue.ExportJob) []string {
	if len(job.Columns) > 0 {
		return job.Columns
	}
	columns := make([]string, 0, len(job.Row))
	for column := range job.Row {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}
