package queue

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func testStorage(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(partnerID string) *ExportJob {
	return &ExportJob{
		PartnerID:       partnerID,
		SpreadsheetID:   "sheet-123",
		SheetName:       "Conversions",
		CredentialsJSON: `{"type":"service_account"}`,
		Row:             map[string]string{"ClickID": "c1", "Sum": "15"},
	}
}

func TestEnqueueClaimDelete(t *testing.T) {
	s := testStorage(t)

	job := testJob("acme")
	if err := s.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.ID == "" {
		t.Fatal("Enqueue() did not assign an id")
	}

	batch, err := s.ClaimBatch(10)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("ClaimBatch() returned %d jobs, want 1", len(batch))
	}
	if batch[0].Status != StatusProcessing {
		t.Errorf("claimed job status = %q, want processing", batch[0].Status)
	}
	if batch[0].Row["ClickID"] != "c1" {
		t.Errorf("claimed job row = %v", batch[0].Row)
	}

	// Claimed jobs are off the pending index
	again, err := s.ClaimBatch(10)
	if err != nil {
		t.Fatalf("second ClaimBatch() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second ClaimBatch() returned %d jobs, want 0", len(again))
	}

	if err := s.Delete(job.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Error("job still present after Delete()")
	}
}

func TestClaimBatchOrderAndLimit(t *testing.T) {
	s := testStorage(t)

	base := time.Now().Add(-time.Minute)
	var ids []string
	for i := 0; i < 5; i++ {
		job := testJob("acme")
		job.EnqueuedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Enqueue(job); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, job.ID)
	}

	batch, err := s.ClaimBatch(3)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("ClaimBatch(3) returned %d jobs", len(batch))
	}
	for i, job := range batch {
		if job.ID != ids[i] {
			t.Errorf("batch[%d].ID = %s, want %s (enqueue order)", i, job.ID, ids[i])
		}
	}

	rest, err := s.ClaimBatch(10)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("remaining batch = %d jobs, want 2", len(rest))
	}
}

func TestClaimSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	s, err := NewBoltStorage(path)
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	if err := s.Enqueue(testJob("acme")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	s.Close()

	s, err = NewBoltStorage(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	batch, err := s.ClaimBatch(10)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(batch) != 1 {
		t.Errorf("batch after reopen = %d jobs, want 1", len(batch))
	}
}

func TestClaimQuarantinesMalformedBytes(t *testing.T) {
	s := testStorage(t)

	// Plant bytes that do not decode as a job
	err := s.DB().Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketJobs).Put([]byte("bad-job"), []byte("{not json")); err != nil {
			return err
		}
		return tx.Bucket(bucketPending).Put(makeIndexKey(time.Now(), "bad-job"), []byte("bad-job"))
	})
	if err != nil {
		t.Fatalf("plant malformed job: %v", err)
	}

	good := testJob("acme")
	if err := s.Enqueue(good); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	batch, err := s.ClaimBatch(10)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(batch) != 1 || batch[0].ID != good.ID {
		t.Fatalf("batch = %v, want only the well-formed job", batch)
	}

	quarantined, err := s.ListQuarantine(10, 0)
	if err != nil {
		t.Fatalf("ListQuarantine() error = %v", err)
	}
	if len(quarantined) != 1 {
		t.Fatalf("quarantine holds %d jobs, want 1", len(quarantined))
	}
	if quarantined[0].ID != "bad-job" || string(quarantined[0].Raw) != "{not json" {
		t.Errorf("quarantined = %+v, raw bytes must be preserved verbatim", quarantined[0])
	}
}

func TestQuarantineAndRetry(t *testing.T) {
	s := testStorage(t)

	job := testJob("acme")
	if err := s.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	batch, err := s.ClaimBatch(1)
	if err != nil || len(batch) != 1 {
		t.Fatalf("ClaimBatch() = %v, %v", batch, err)
	}

	if err := s.Quarantine(batch[0], "sheet append failed"); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 || stats.Quarantined != 1 {
		t.Errorf("Stats() = %+v, want only one quarantined", stats)
	}

	if err := s.RetryFromQuarantine(job.ID); err != nil {
		t.Fatalf("RetryFromQuarantine() error = %v", err)
	}

	batch, err = s.ClaimBatch(1)
	if err != nil {
		t.Fatalf("ClaimBatch() after retry error = %v", err)
	}
	if len(batch) != 1 {
		t.Fatal("retried job not claimable")
	}
	if batch[0].RetryCount != 1 || batch[0].LastError != "sheet append failed" {
		t.Errorf("retried job = %+v, want retry count 1 and failure reason kept", batch[0])
	}
}

func TestRetryMalformedQuarantineFails(t *testing.T) {
	s := testStorage(t)

	err := s.DB().Update(func(tx *bolt.Tx) error {
		q := QuarantinedJob{ID: "bad", Raw: []byte("{not json"), Reason: "decode", QuarantinedAt: time.Now()}
		data, err := json.Marshal(&q)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketQuarantine).Put([]byte("bad"), data)
	})
	if err != nil {
		t.Fatalf("plant quarantined job: %v", err)
	}

	if err := s.RetryFromQuarantine("bad"); err == nil {
		t.Error("RetryFromQuarantine() succeeded for undecodable bytes")
	}
}

func TestDeleteFromQuarantine(t *testing.T) {
	s := testStorage(t)

	job := testJob("acme")
	if err := s.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	batch, _ := s.ClaimBatch(1)
	if err := s.Quarantine(batch[0], "broken"); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}

	if err := s.DeleteFromQuarantine(job.ID); err != nil {
		t.Fatalf("DeleteFromQuarantine() error = %v", err)
	}
	quarantined, _ := s.ListQuarantine(10, 0)
	if len(quarantined) != 0 {
		t.Errorf("quarantine holds %d jobs after delete, want 0", len(quarantined))
	}
}

func TestNewJobIDSortable(t *testing.T) {
	a := NewJobID()
	time.Sleep(2 * time.Millisecond)
	b := NewJobID()
	if !(a < b) {
		t.Errorf("ids not time-ordered: %s >= %s", a, b)
	}
}
