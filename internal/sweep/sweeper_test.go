package sweep

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/sheets"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStorage(t *testing.T) *queue.BoltStorage {
	t.Helper()
	s, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeSheet emulates the values API for one sheet, tracking header state
// and appended rows.
type fakeSheet struct {
	mu     sync.Mutex
	header []string
	rows   [][]string
	fail   bool
}

func (f *fakeSheet) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.fail {
			http.Error(w, `{"error":"backend"}`, http.StatusInternalServerError)
			return
		}

		var body struct {
			Values [][]string `json:"values"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}

		switch {
		case r.Method == http.MethodGet:
			out := struct {
				Values [][]string `json:"values,omitempty"`
			}{}
			if len(f.header) > 0 {
				out.Values = [][]string{f.header}
			}
			json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodPut:
			f.header = body.Values[0]
			w.Write([]byte(`{}`))
		case strings.HasSuffix(r.URL.Path, ":append"):
			f.rows = append(f.rows, body.Values[0])
			w.Write([]byte(`{}`))
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}))
}

func testJob(sheetURL string) *queue.ExportJob {
	return &queue.ExportJob{
		PartnerID:       "acme",
		SpreadsheetID:   "sheet-1",
		SheetName:       "Conversions",
		CredentialsJSON: `{"type":"service_account"}`,
		Columns:         []string{"Date", "ClickID", "Sum"},
		Row: map[string]string{
			"Date":    "2026-08-31",
			"ClickID": "c1",
			"Sum":     "15",
		},
	}
}

func TestSweepExportsJob(t *testing.T) {
	sheet := &fakeSheet{}
	srv := sheet.server()
	defer srv.Close()

	storage := testStorage(t)
	if err := storage.Enqueue(testJob(srv.URL)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(srv.URL), 20)
	exported, quarantined, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if exported != 1 || quarantined != 0 {
		t.Errorf("Sweep() = %d exported, %d quarantined", exported, quarantined)
	}

	if !reflect.DeepEqual(sheet.header, []string{"Date", "ClickID", "Sum"}) {
		t.Errorf("header = %v, want written in column order", sheet.header)
	}
	if len(sheet.rows) != 1 || !reflect.DeepEqual(sheet.rows[0], []string{"2026-08-31", "c1", "15"}) {
		t.Errorf("rows = %v", sheet.rows)
	}

	stats, _ := storage.Stats()
	if stats.Pending != 0 || stats.Processing != 0 {
		t.Errorf("queue not drained: %+v", stats)
	}
}

func TestSweepEvolvesHeader(t *testing.T) {
	sheet := &fakeSheet{header: []string{"Date", "ClickID"}}
	srv := sheet.server()
	defer srv.Close()

	storage := testStorage(t)
	job := testJob(srv.URL)
	job.Columns = []string{"Date", "ClickID", "Sum", "Geo"}
	job.Row["Geo"] = "DE"
	if err := storage.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(srv.URL), 20)
	if _, _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	// Existing columns keep their position, new ones are appended
	if !reflect.DeepEqual(sheet.header, []string{"Date", "ClickID", "Sum", "Geo"}) {
		t.Errorf("header = %v", sheet.header)
	}
	if !reflect.DeepEqual(sheet.rows[0], []string{"2026-08-31", "c1", "15", "DE"}) {
		t.Errorf("row = %v, want values aligned to evolved header", sheet.rows[0])
	}
}

func TestSweepHeaderAlreadyComplete(t *testing.T) {
	sheet := &fakeSheet{header: []string{"Extra", "Date", "ClickID", "Sum"}}
	srv := sheet.server()
	defer srv.Close()

	storage := testStorage(t)
	if err := storage.Enqueue(testJob(srv.URL)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(srv.URL), 20)
	if _, _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	// Columns the job does not know stay and yield empty cells
	if !reflect.DeepEqual(sheet.header, []string{"Extra", "Date", "ClickID", "Sum"}) {
		t.Errorf("header rewritten without need: %v", sheet.header)
	}
	if !reflect.DeepEqual(sheet.rows[0], []string{"", "2026-08-31", "c1", "15"}) {
		t.Errorf("row = %v", sheet.rows[0])
	}
}

func TestSweepQuarantinesFailedJobAndContinues(t *testing.T) {
	okSheet := &fakeSheet{}
	okSrv := okSheet.server()
	defer okSrv.Close()

	storage := testStorage(t)

	// First job has no destination and must be quarantined
	broken := testJob(okSrv.URL)
	broken.SpreadsheetID = ""
	if err := storage.Enqueue(broken); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	good := testJob(okSrv.URL)
	if err := storage.Enqueue(good); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(okSrv.URL), 20)
	exported, quarantined, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if exported != 1 || quarantined != 1 {
		t.Errorf("Sweep() = %d exported, %d quarantined, want 1 and 1", exported, quarantined)
	}

	qjobs, _ := storage.ListQuarantine(10, 0)
	if len(qjobs) != 1 || qjobs[0].ID != broken.ID {
		t.Errorf("quarantine = %v, want the destination-less job", qjobs)
	}
	if len(okSheet.rows) != 1 {
		t.Errorf("good job not exported: rows = %v", okSheet.rows)
	}
}

func TestSweepQuarantinesOnBackendError(t *testing.T) {
	sheet := &fakeSheet{fail: true}
	srv := sheet.server()
	defer srv.Close()

	storage := testStorage(t)
	job := testJob(srv.URL)
	if err := storage.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(srv.URL), 20)
	exported, quarantined, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if exported != 0 || quarantined != 1 {
		t.Errorf("Sweep() = %d exported, %d quarantined", exported, quarantined)
	}

	qjobs, _ := storage.ListQuarantine(10, 0)
	if len(qjobs) != 1 || !strings.Contains(qjobs[0].Reason, "header") {
		t.Errorf("quarantine reason = %v", qjobs)
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	sheet := &fakeSheet{}
	srv := sheet.server()
	defer srv.Close()

	storage := testStorage(t)
	for i := 0; i < 5; i++ {
		if err := storage.Enqueue(testJob(srv.URL)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	s := New(testLogger(), storage, sheets.NewUnauthenticated(srv.URL), 2)
	exported, _, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if exported != 2 {
		t.Errorf("exported = %d, want batch size 2", exported)
	}

	stats, _ := storage.Stats()
	if stats.Pending != 3 {
		t.Errorf("pending = %d, want 3 left for the next sweep", stats.Pending)
	}
}
