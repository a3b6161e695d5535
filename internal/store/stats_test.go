package store

import (
	"fmt"
	"testing"
	"time"
)

func TestRecordResultCounters(t *testing.T) {
	db := testDB(t)
	partners := NewPartnerRepository(db)
	stats := NewStatsRepository(db)

	if err := partners.Save(testPartner("acme")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := stats.RecordResult(&DetailStat{PartnerID: "acme", ClickID: "c", Status: 200}, true); err != nil {
			t.Fatalf("RecordResult(success) error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := stats.RecordResult(&DetailStat{PartnerID: "acme", Status: 500, Response: "Error: upstream"}, false); err != nil {
			t.Fatalf("RecordResult(failure) error = %v", err)
		}
	}

	s, err := stats.Summary("acme")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if s.TotalRequests != 5 || s.SuccessfulRedirects != 3 || s.Errors != 2 {
		t.Errorf("Summary() = %+v, want 5/3/2", s)
	}
	if s.TotalRequests != s.SuccessfulRedirects+s.Errors {
		t.Errorf("counter invariant violated: %d != %d + %d", s.TotalRequests, s.SuccessfulRedirects, s.Errors)
	}
}

func TestRecordResultRetention(t *testing.T) {
	db := testDB(t)
	partners := NewPartnerRepository(db)
	stats := NewStatsRepository(db)

	if err := partners.Save(testPartner("acme")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// A second partner's rows must be untouched by acme's trimming
	if err := partners.Save(testPartner("other")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := stats.RecordResult(&DetailStat{PartnerID: "other", ClickID: "keep", Status: 200}, true); err != nil {
		t.Fatalf("RecordResult(other) error = %v", err)
	}

	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	total := DetailRetention + 25
	for i := 0; i < total; i++ {
		d := &DetailStat{
			PartnerID: "acme",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			ClickID:   fmt.Sprintf("click-%05d", i),
			Status:    200,
		}
		if err := stats.RecordResult(d, true); err != nil {
			t.Fatalf("RecordResult(%d) error = %v", i, err)
		}
	}

	count, err := stats.DetailCount("acme")
	if err != nil {
		t.Fatalf("DetailCount() error = %v", err)
	}
	if count != DetailRetention {
		t.Errorf("retained rows = %d, want %d", count, DetailRetention)
	}

	// The oldest surviving row is exactly the one at total-DetailRetention
	rows, err := stats.ListDetail("acme", DetailFilter{})
	if err != nil {
		t.Fatalf("ListDetail() error = %v", err)
	}
	oldest := rows[len(rows)-1]
	wantOldest := fmt.Sprintf("click-%05d", total-DetailRetention)
	if oldest.ClickID != wantOldest {
		t.Errorf("oldest retained click id = %s, want %s", oldest.ClickID, wantOldest)
	}
	newest := rows[0]
	wantNewest := fmt.Sprintf("click-%05d", total-1)
	if newest.ClickID != wantNewest {
		t.Errorf("newest retained click id = %s, want %s", newest.ClickID, wantNewest)
	}

	otherCount, _ := stats.DetailCount("other")
	if otherCount != 1 {
		t.Errorf("other partner rows = %d, want 1", otherCount)
	}
}

func TestListDetailFilters(t *testing.T) {
	db := testDB(t)
	partners := NewPartnerRepository(db)
	stats := NewStatsRepository(db)

	if err := partners.Save(testPartner("acme")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	seed := []*DetailStat{
		{PartnerID: "acme", Timestamp: base, ClickID: "abc123", URL: "http://t/postback?x=1", Status: 200, ExtraParams: `{"geo":"DE"}`},
		{PartnerID: "acme", Timestamp: base.Add(time.Minute), ClickID: "def456", URL: "http://t/postback?x=2", Status: 404, ExtraParams: `{"geo":"US"}`},
		{PartnerID: "acme", Timestamp: base.Add(2 * time.Minute), ClickID: "", URL: "http://t/postback", Status: 500, ExtraParams: ""},
	}
	for _, d := range seed {
		if err := stats.RecordResult(d, d.Status == 200); err != nil {
			t.Fatalf("RecordResult() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter DetailFilter
		want   int
	}{
		{"all", DetailFilter{}, 3},
		{"free text", DetailFilter{Search: "abc123"}, 1},
		// LIKE matches regardless of ASCII case, so a bare "DE" would also
		// hit click id def456; the quoted form pins it to the extras value
		{"free text in extras", DetailFilter{Search: `"DE"`}, 1},
		{"free text case-insensitive", DetailFilter{Search: "DEF"}, 1},
		{"empty sentinel", DetailFilter{Search: "EMPTY"}, 1},
		{"structured click_id", DetailFilter{Search: "click_id:def"}, 1},
		{"structured extra", DetailFilter{Search: "extra:US"}, 1},
		{"status", DetailFilter{Status: 404}, 1},
		{"date range", DetailFilter{StartDate: base.Add(30 * time.Second), EndDate: base.Add(90 * time.Second)}, 1},
		{"limit", DetailFilter{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := stats.ListDetail("acme", tt.filter)
			if err != nil {
				t.Fatalf("ListDetail() error = %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("ListDetail() returned %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestClearPartner(t *testing.T) {
	db := testDB(t)
	partners := NewPartnerRepository(db)
	stats := NewStatsRepository(db)

	if err := partners.Save(testPartner("acme")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := stats.RecordResult(&DetailStat{PartnerID: "acme", ClickID: "c", Status: 200}, true); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	if err := stats.ClearPartner("acme"); err != nil {
		t.Fatalf("ClearPartner() error = %v", err)
	}

	s, _ := stats.Summary("acme")
	if s.TotalRequests != 0 {
		t.Errorf("summary after clear = %+v, want zeroes", s)
	}
	count, _ := stats.DetailCount("acme")
	if count != 0 {
		t.Errorf("detail rows after clear = %d, want 0", count)
	}
}
