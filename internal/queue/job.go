// Package queue is the durable export queue between the request pipeline
// and the spreadsheet sweeper. Jobs survive restarts; poison jobs land in
// quarantine instead of blocking the queue.
package queue

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobStatus represents the export job state
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
)

// ExportJob is one spreadsheet row waiting to be written. It carries its
// own destination and credentials so the sweeper needs no partner lookup.
type ExportJob struct {
	ID              string            `json:"id"`
	PartnerID       string            `json:"partner_id"`
	SpreadsheetID   string            `json:"spreadsheet_id"`
	SheetName       string            `json:"sheet_name"`
	CredentialsJSON string            `json:"credentials_json"`
	// Columns preserves the row's column order; Row maps column to value
	Columns         []string          `json:"columns"`
	Row             map[string]string `json:"row"`
	Status          JobStatus         `json:"status"`
	EnqueuedAt      time.Time         `json:"enqueued_at"`
	RetryCount      int               `json:"retry_count"`
	LastError       string            `json:"last_error,omitempty"`
}

// NewJobID generates a lexicographically sortable job identifier
func NewJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// QuarantinedJob wraps the raw bytes of a job that could not be processed.
// Raw is kept verbatim so a malformed payload can still be inspected.
type QuarantinedJob struct {
	ID            string    `json:"id"`
	Raw           []byte    `json:"raw"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// QueueStats summarizes queue state for the operator surface
type QueueStats struct {
	Pending     int64 `json:"pending"`
	Processing  int64 `json:"processing"`
	Quarantined int64 `json:"quarantined"`
}
