package ratelimit

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func testDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "limits.db"), 0600, nil)
	if err != nil {
		t.Fatalf("bolt.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAllowUnderLimit(t *testing.T) {
	l, err := NewLimiter(testDB(t), &Config{Requests: 3, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	defer l.Stop()

	for i := 0; i < 3; i++ {
		res := l.Allow("203.0.113.1")
		if !res.Allowed {
			t.Fatalf("request %d denied under limit", i+1)
		}
		if res.Remaining != 3-i-1 {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, res.Remaining, 3-i-1)
		}
	}

	res := l.Allow("203.0.113.1")
	if res.Allowed {
		t.Error("request over limit allowed")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within one window", res.RetryAfter)
	}
}

func TestAllowPerIP(t *testing.T) {
	l, err := NewLimiter(testDB(t), &Config{Requests: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	defer l.Stop()

	if !l.Allow("203.0.113.1").Allowed {
		t.Fatal("first request denied")
	}
	if l.Allow("203.0.113.1").Allowed {
		t.Error("second request from same IP allowed")
	}
	if !l.Allow("203.0.113.2").Allowed {
		t.Error("request from different IP denied")
	}
}

func TestWindowSlides(t *testing.T) {
	l, err := NewLimiter(testDB(t), &Config{Requests: 2, Window: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	defer l.Stop()

	l.Allow("203.0.113.1")
	l.Allow("203.0.113.1")
	if l.Allow("203.0.113.1").Allowed {
		t.Fatal("over-limit request allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !l.Allow("203.0.113.1").Allowed {
		t.Error("request denied after window expired")
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("bolt.Open() error = %v", err)
	}

	cfg := &Config{Requests: 2, Window: time.Minute}
	l, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	l.Allow("203.0.113.1")
	l.Allow("203.0.113.1")
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	db.Close()

	db, err = bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	l, err = NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("NewLimiter() after restart error = %v", err)
	}
	defer l.Stop()

	if l.Allow("203.0.113.1").Allowed {
		t.Error("restart reset the window")
	}
	if !l.Allow("203.0.113.2").Allowed {
		t.Error("unrelated IP denied after restart")
	}
}

func TestDefaults(t *testing.T) {
	l, err := NewLimiter(testDB(t), nil)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	defer l.Stop()

	if l.config.Requests != 100 || l.config.Window != 60*time.Second {
		t.Errorf("defaults = %d req / %v, want 100 / 60s", l.config.Requests, l.config.Window)
	}
}
