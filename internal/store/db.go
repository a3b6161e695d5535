package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationSettings,
		migrationPartners,
		migrationSummaryStats,
		migrationDetailedStats,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return db.seedSettings()
}

// seedSettings inserts default global settings, keeping existing values
func (db *DB) seedSettings() error {
	defaults := map[string]string{
		"telegram_globally_enabled": "true",
		"curl_timeout":              "10",
		"curl_connect_timeout":      "5",
		"curl_ssl_verify":           "true",
		"curl_followlocation":       "true",
	}

	for key, value := range defaults {
		_, err := db.Exec(`
			INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
			ON CONFLICT(setting_key) DO NOTHING`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

const migrationSettings = `
CREATE TABLE IF NOT EXISTS settings (
    setting_key TEXT PRIMARY KEY,
    setting_value TEXT
);
`

const migrationPartners = `
CREATE TABLE IF NOT EXISTS partners (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    notes TEXT,
    target_domain TEXT NOT NULL,
    clickid_keys JSON,
    sum_keys JSON,
    sum_mapping JSON,
    logging_enabled BOOLEAN DEFAULT TRUE,
    telegram_enabled BOOLEAN DEFAULT TRUE,
    telegram_whitelist_enabled BOOLEAN DEFAULT FALSE,
    telegram_whitelist_keywords JSON,
    ip_whitelist_enabled BOOLEAN DEFAULT FALSE,
    allowed_ips JSON,
    partner_telegram_enabled BOOLEAN DEFAULT FALSE,
    partner_telegram_bot_token TEXT,
    partner_telegram_channel_id TEXT,
    google_spreadsheet_id TEXT,
    google_sheet_name TEXT,
    google_service_account_json TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationSummaryStats = `
CREATE TABLE IF NOT EXISTS summary_stats (
    partner_id TEXT PRIMARY KEY REFERENCES partners(id) ON DELETE CASCADE,
    total_requests INTEGER NOT NULL DEFAULT 0,
    successful_redirects INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0
);
`

const migrationDetailedStats = `
CREATE TABLE IF NOT EXISTS detailed_stats (
    stat_id INTEGER PRIMARY KEY AUTOINCREMENT,
    partner_id TEXT NOT NULL REFERENCES partners(id) ON DELETE CASCADE,
    timestamp DATETIME NOT NULL,
    url TEXT,
    status INTEGER,
    click_id TEXT,
    response TEXT,
    sum TEXT,
    sum_mapping TEXT,
    extra_params JSON,
    event_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_detailed_stats_partner ON detailed_stats(partner_id);
CREATE INDEX IF NOT EXISTS idx_detailed_stats_timestamp ON detailed_stats(timestamp);
`
