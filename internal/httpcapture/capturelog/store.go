package capturelog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles persistence of captured HTTP request/response pairs to
// SQLite, so MitM capture sessions survive a gateway restart and can be
// inspected offline.
type Store struct {
	db *sql.DB
}

// Open opens or creates the capture log database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open capturelog db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS capture_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL, -- Unix timestamp
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		status_code INTEGER,
		request_header_count INTEGER,
		response_header_count INTEGER,
		request_body_bytes INTEGER,
		response_body_bytes INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_capture_timestamp ON capture_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_capture_host ON capture_logs(host);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordEntry persists a single captured request/response pair.
func (s *Store) RecordEntry(e Entry) error {
	query := `
		INSERT INTO capture_logs (timestamp, method, url, host, status_code, request_header_count, response_header_count, request_body_bytes, response_body_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		e.Timestamp.Unix(),
		e.Method,
		e.URL,
		e.Host,
		e.StatusCode,
		e.RequestHeaderCount,
		e.ResponseHeaderCount,
		e.RequestBodyBytes,
		e.ResponseBodyBytes,
	)
	return err
}

// GetRecentLogs returns recent captures with optional URL/host filtering.
func (s *Store) GetRecentLogs(limit int, offset int, search string) ([]Entry, error) {
	query := `
		SELECT timestamp, method, url, host, status_code, request_header_count, response_header_count, request_body_bytes, response_body_bytes
		FROM capture_logs
	`
	var args []interface{}

	if search != "" {
		query += " WHERE url LIKE ? OR host LIKE ?"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		err := rows.Scan(
			&ts, &e.Method, &e.URL, &e.Host, &e.StatusCode,
			&e.RequestHeaderCount, &e.ResponseHeaderCount,
			&e.RequestBodyBytes, &e.ResponseBodyBytes,
		)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		logs = append(logs, e)
	}
	return logs, nil
}

// GetStats returns aggregated capture statistics for the given time range.
func (s *Store) GetStats(from, to time.Time) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		FROM capture_logs
		WHERE timestamp >= ? AND timestamp <= ?
	`, from.Unix(), to.Unix()).Scan(&stats.TotalCaptures, &stats.ErrorResponses)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT host, COUNT(*) as count
		FROM capture_logs
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY host
		ORDER BY count DESC
		LIMIT 10
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hs HostStat
		if err := rows.Scan(&hs.Host, &hs.Count); err != nil {
			return nil, err
		}
		stats.TopHosts = append(stats.TopHosts, hs)
	}

	return stats, nil
}

// Cleanup removes records older than retention period.
func (s *Store) Cleanup(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := s.db.Exec("DELETE FROM capture_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
