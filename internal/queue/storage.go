package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs       = []byte("jobs")
	bucketPending    = []byte("pending")
	bucketQuarantine = []byte("quarantine")
)

// BoltStorage is the durable export queue backed by BoltDB
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens (or creates) the queue database
func NewBoltStorage(path string) (*BoltStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPending, bucketQuarantine} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds a job to the queue
func (s *BoltStorage) Enqueue(job *ExportJob) error {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	job.Status = StatusPending

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}

		indexKey := makeIndexKey(job.EnqueuedAt, job.ID)
		if err := tx.Bucket(bucketPending).Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

// ClaimBatch atomically takes up to limit jobs off the pending index, in
// enqueue order. Claimed jobs stay in the jobs bucket marked processing
// until the caller deletes or quarantines them. Job bytes that no longer
// decode are moved to quarantine inside the same transaction.
func (s *BoltStorage) ClaimBatch(limit int) ([]*ExportJob, error) {
	var batch []*ExportJob

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		c := tx.Bucket(bucketPending).Cursor()

		for k, v := c.First(); k != nil && len(batch) < limit; k, v = c.Next() {
			id := string(v)

			data := jobs.Get(v)
			if data == nil {
				// Job was deleted, clean up the stale index entry
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}

			var job ExportJob
			if err := json.Unmarshal(data, &job); err != nil {
				if err := quarantineInTx(tx, id, data, fmt.Sprintf("failed to decode job: %v", err)); err != nil {
					return err
				}
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}

			job.Status = StatusProcessing
			updated, err := json.Marshal(&job)
			if err != nil {
				return err
			}
			if err := jobs.Put(v, updated); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			batch = append(batch, &job)
		}
		return nil
	})

	return batch, err
}

// Delete removes a job for good, used after a successful export
func (s *BoltStorage) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)

		if data := jobs.Get([]byte(id)); data != nil {
			var job ExportJob
			if err := json.Unmarshal(data, &job); err == nil {
				tx.Bucket(bucketPending).Delete(makeIndexKey(job.EnqueuedAt, job.ID))
			}
		}
		return jobs.Delete([]byte(id))
	})
}

// Quarantine moves a claimed job out of the active queue. The job bytes
// are preserved verbatim together with the failure reason.
func (s *BoltStorage) Quarantine(job *ExportJob, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := quarantineInTx(tx, job.ID, data, reason); err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Delete([]byte(job.ID))
	})
}

func quarantineInTx(tx *bolt.Tx, id string, raw []byte, reason string) error {
	q := QuarantinedJob{
		ID:            id,
		Raw:           append([]byte{}, raw...),
		Reason:        reason,
		QuarantinedAt: time.Now(),
	}
	data, err := json.Marshal(&q)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantined job: %w", err)
	}
	return tx.Bucket(bucketQuarantine).Put([]byte(id), data)
}

// Get retrieves a job by ID, nil if absent
func (s *BoltStorage) Get(id string) (*ExportJob, error) {
	var job *ExportJob

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}
		job = &ExportJob{}
		return json.Unmarshal(data, job)
	})

	return job, err
}

// List returns jobs in enqueue order
func (s *BoltStorage) List(limit, offset int) ([]*ExportJob, error) {
	var jobs []*ExportJob

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()

		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job ExportJob
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			jobs = append(jobs, &job)
			if limit > 0 && len(jobs) >= limit {
				break
			}
		}
		return nil
	})

	return jobs, err
}

// ListQuarantine returns quarantined jobs
func (s *BoltStorage) ListQuarantine(limit, offset int) ([]*QuarantinedJob, error) {
	var jobs []*QuarantinedJob

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQuarantine).Cursor()

		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var q QuarantinedJob
			if err := json.Unmarshal(v, &q); err != nil {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			jobs = append(jobs, &q)
			if limit > 0 && len(jobs) >= limit {
				break
			}
		}
		return nil
	})

	return jobs, err
}

// RetryFromQuarantine puts a quarantined job back on the pending index.
// Only jobs whose bytes still decode can be retried.
func (s *BoltStorage) RetryFromQuarantine(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		qBucket := tx.Bucket(bucketQuarantine)

		data := qBucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("quarantined job not found: %s", id)
		}

		var q QuarantinedJob
		if err := json.Unmarshal(data, &q); err != nil {
			return fmt.Errorf("failed to unmarshal quarantined job: %w", err)
		}

		var job ExportJob
		if err := json.Unmarshal(q.Raw, &job); err != nil {
			return fmt.Errorf("job bytes do not decode, cannot retry: %w", err)
		}

		job.Status = StatusPending
		job.RetryCount++
		job.LastError = q.Reason

		updated, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(job.ID), updated); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}
		if err := tx.Bucket(bucketPending).Put(makeIndexKey(job.EnqueuedAt, job.ID), []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return qBucket.Delete([]byte(id))
	})
}

// DeleteFromQuarantine permanently discards a quarantined job
func (s *BoltStorage) DeleteFromQuarantine(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuarantine).Delete([]byte(id))
	})
}

// Stats returns queue statistics
func (s *BoltStorage) Stats() (*QueueStats, error) {
	stats := &QueueStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job ExportJob
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}
			switch job.Status {
			case StatusPending:
				stats.Pending++
			case StatusProcessing:
				stats.Processing++
			}
		}

		stats.Quarantined = int64(tx.Bucket(bucketQuarantine).Stats().KeyN)
		return nil
	})

	return stats, err
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying bolt.DB, shared with the rate limiter
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano) + ":" + id)
}
