// Package ratelimit implements a per-IP sliding-window request limiter.
// Windows are persisted to BoltDB so a restart does not reset them.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Config contains rate limit configuration
type Config struct {
	// Requests allowed per Window per client IP
	Requests int
	Window   time.Duration

	// Persistence settings
	FlushInterval time.Duration
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// window holds the request timestamps for one client IP
type window struct {
	Hits []time.Time `json:"hits"`
}

// Limiter tracks request timestamps per client IP in a sliding window
type Limiter struct {
	db      *bolt.DB
	config  *Config
	windows map[string]*window
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewLimiter creates a new rate limiter backed by the given database
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Requests == 0 {
		cfg.Requests = 100
	}
	if cfg.Window == 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:      db,
		config:  cfg,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}

	if err := l.loadWindows(); err != nil {
		return nil, fmt.Errorf("failed to load windows: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Allow checks whether a request from ip may proceed and records it if so.
// Expired hits are pruned, the window is checked against the limit, and
// the new hit is appended, all under one lock.
func (l *Limiter) Allow(ip string) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.config.Window)

	w, exists := l.windows[ip]
	if !exists {
		w = &window{}
		l.windows[ip] = w
	}

	kept := w.Hits[:0]
	for _, hit := range w.Hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.Hits = kept

	if len(w.Hits) >= l.config.Requests {
		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.Hits[0].Add(l.config.Window).Sub(now),
		}
	}

	w.Hits = append(w.Hits, now)
	return &Result{
		Allowed:   true,
		Remaining: l.config.Requests - len(w.Hits),
	}
}

// Stop stops the limiter and persists window state
func (l *Limiter) Stop() error {
	close(l.stopCh)
	return l.persistWindows()
}

func (l *Limiter) loadWindows() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var w window
			if err := json.Unmarshal(v, &w); err != nil {
				return nil // skip invalid entries
			}
			l.windows[string(k)] = &w
			return nil
		})
	})
}

func (l *Limiter) persistWindows() error {
	l.mu.Lock()

	cutoff := time.Now().Add(-l.config.Window)
	snapshot := make(map[string][]byte, len(l.windows))
	var stale []string

	for ip, w := range l.windows {
		kept := w.Hits[:0]
		for _, hit := range w.Hits {
			if hit.After(cutoff) {
				kept = append(kept, hit)
			}
		}
		w.Hits = kept

		if len(w.Hits) == 0 {
			stale = append(stale, ip)
			delete(l.windows, ip)
			continue
		}

		data, err := json.Marshal(w)
		if err != nil {
			continue
		}
		snapshot[ip] = data
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for _, ip := range stale {
			if err := bucket.Delete([]byte(ip)); err != nil {
				return err
			}
		}
		for ip, data := range snapshot {
			if err := bucket.Put([]byte(ip), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistWindows()
		}
	}
}
