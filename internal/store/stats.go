package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DetailRetention is the per-partner sliding window of detail rows kept
const DetailRetention = 1000

// StatsRepository records and reads per-partner statistics
type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db.DB}
}

// RecordResult upserts the summary counters and appends the detail row as
// one transaction. total_requests and exactly one of successful_redirects /
// errors are incremented in a single statement, so the counter equation
// holds under concurrent writers. The detail log is trimmed to the most
// recent DetailRetention rows for the partner inside the same transaction,
// based on a read taken after the insert.
func (r *StatsRepository) RecordResult(detail *DetailStat, success bool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin stats transaction: %w", err)
	}
	defer tx.Rollback()

	successCol := "errors"
	if success {
		successCol = "successful_redirects"
	}
	query := fmt.Sprintf(`
		INSERT INTO summary_stats (partner_id, total_requests, %[1]s) VALUES (?, 1, 1)
		ON CONFLICT(partner_id) DO UPDATE SET
			total_requests = total_requests + 1,
			%[1]s = %[1]s + 1`, successCol)
	if _, err := tx.Exec(query, detail.PartnerID); err != nil {
		return fmt.Errorf("failed to update summary stats: %w", err)
	}

	if detail.Timestamp.IsZero() {
		detail.Timestamp = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO detailed_stats (partner_id, timestamp, url, status, click_id, response, sum, sum_mapping, extra_params, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		detail.PartnerID, detail.Timestamp, detail.URL, detail.Status, detail.ClickID,
		detail.Response, detail.Sum, detail.SumMapping, detail.ExtraParams, detail.EventID,
	); err != nil {
		return fmt.Errorf("failed to insert detail stat: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM detailed_stats
		WHERE partner_id = ? AND stat_id NOT IN (
			SELECT stat_id FROM detailed_stats
			WHERE partner_id = ?
			ORDER BY timestamp DESC, stat_id DESC
			LIMIT ?
		)`,
		detail.PartnerID, detail.PartnerID, DetailRetention,
	); err != nil {
		return fmt.Errorf("failed to trim detail stats: %w", err)
	}

	return tx.Commit()
}

// Summary returns the counters for a partner, zeroes if no row exists yet
func (r *StatsRepository) Summary(partnerID string) (*SummaryStat, error) {
	s := &SummaryStat{PartnerID: partnerID}
	err := r.db.QueryRow(`
		SELECT total_requests, successful_redirects, errors
		FROM summary_stats WHERE partner_id = ?`, partnerID,
	).Scan(&s.TotalRequests, &s.SuccessfulRedirects, &s.Errors)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SummaryAll returns counters for every partner that has any
func (r *StatsRepository) SummaryAll() ([]SummaryStat, error) {
	rows, err := r.db.Query(`
		SELECT partner_id, total_requests, successful_redirects, errors
		FROM summary_stats ORDER BY partner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []SummaryStat{}
	for rows.Next() {
		var s SummaryStat
		if err := rows.Scan(&s.PartnerID, &s.TotalRequests, &s.SuccessfulRedirects, &s.Errors); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// ListDetail returns detail rows for a partner, newest first
func (r *StatsRepository) ListDetail(partnerID string, filter DetailFilter) ([]DetailStat, error) {
	query := `
		SELECT stat_id, partner_id, timestamp, url, status, click_id,
			COALESCE(response, '') as response, COALESCE(sum, '') as sum,
			COALESCE(sum_mapping, '') as sum_mapping,
			COALESCE(extra_params, '') as extra_params,
			COALESCE(event_id, '') as event_id
		FROM detailed_stats WHERE partner_id = ?`
	args := []any{partnerID}

	if term := strings.TrimSpace(filter.Search); term != "" {
		switch {
		case strings.EqualFold(term, "EMPTY"):
			query += ` AND (click_id = '' OR click_id IS NULL OR url = '' OR url IS NULL
				OR extra_params = '' OR extra_params = '{}' OR extra_params = '[]' OR extra_params IS NULL)`
		case strings.Contains(term, ":"):
			parts := strings.SplitN(term, ":", 2)
			key := strings.TrimSpace(parts[0])
			value := "%" + strings.TrimSpace(parts[1]) + "%"
			switch key {
			case "click_id", "clickid":
				query += " AND click_id LIKE ?"
				args = append(args, value)
			case "url":
				query += " AND url LIKE ?"
				args = append(args, value)
			case "extra":
				query += " AND extra_params LIKE ?"
				args = append(args, value)
			default:
				// Unrecognized key, treat the whole term as free text
				free := "%" + term + "%"
				query += " AND (click_id LIKE ? OR url LIKE ? OR extra_params LIKE ?)"
				args = append(args, free, free, free)
			}
		default:
			free := "%" + term + "%"
			query += " AND (click_id LIKE ? OR url LIKE ? OR extra_params LIKE ?)"
			args = append(args, free, free, free)
		}
	}

	if filter.Status != 0 {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp DESC, stat_id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []DetailStat{}
	for rows.Next() {
		var d DetailStat
		if err := rows.Scan(&d.StatID, &d.PartnerID, &d.Timestamp, &d.URL, &d.Status,
			&d.ClickID, &d.Response, &d.Sum, &d.SumMapping, &d.ExtraParams, &d.EventID); err != nil {
			return nil, err
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// DetailCount returns the number of detail rows retained for a partner
func (r *StatsRepository) DetailCount(partnerID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM detailed_stats WHERE partner_id = ?", partnerID).Scan(&count)
	return count, err
}

// ClearPartner removes all statistics for a partner
func (r *StatsRepository) ClearPartner(partnerID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM detailed_stats WHERE partner_id = ?", partnerID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM summary_stats WHERE partner_id = ?", partnerID); err != nil {
		return err
	}
	return tx.Commit()
}
