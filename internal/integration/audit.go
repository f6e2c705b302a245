package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAuditLogger records every outbound Habu call in SQLite
type SQLiteAuditLogger struct {
	db *sql.DB
}

// NewSQLiteAuditLogger creates a new SQLite audit logger. ":memory:" is accepted.
func NewSQLiteAuditLogger(dbPath string) (*SQLiteAuditLogger, error) {
	if dbPath != ":memory:" {
		dbPath = expandPath(dbPath)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	logger := &SQLiteAuditLogger{db: db}
	if err := logger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return logger, nil
}

// initSchema creates the audit log table
func (a *SQLiteAuditLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		service TEXT NOT NULL,
		operation TEXT NOT NULL,
		request_id TEXT,
		method TEXT,
		endpoint TEXT,
		status_code INTEGER,
		duration_ms INTEGER,
		success BOOLEAN,
		error TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_service ON audit_log(service);
	`

	_, err := a.db.Exec(schema)
	return err
}

// Log records an API call
func (a *SQLiteAuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_log (
			timestamp, service, operation, request_id,
			method, endpoint, status_code, duration_ms, success, error, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadataJSON := "{}"
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err := a.db.ExecContext(ctx, query,
		entry.Timestamp,
		string(entry.Service),
		entry.Operation,
		entry.RequestID,
		entry.Method,
		entry.Endpoint,
		entry.StatusCode,
		entry.Duration.Milliseconds(),
		entry.Success,
		entry.Error,
		metadataJSON,
	)

	return err
}

// Query retrieves audit logs, newest first
func (a *SQLiteAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if filter == nil {
		filter = &AuditFilter{}
	}

	query := "SELECT id, timestamp, service, operation, request_id, method, endpoint, status_code, duration_ms, success, error FROM audit_log WHERE 1=1"
	args := []interface{}{}

	if filter.Service != nil {
		query += " AND service = ?"
		args = append(args, string(*filter.Service))
	}

	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.StartTime)
	}

	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.EndTime)
	}

	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, *filter.Success)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var id int64
		var durationMs int64
		var service string
		var requestID, errMsg sql.NullString

		err := rows.Scan(
			&id,
			&entry.Timestamp,
			&service,
			&entry.Operation,
			&requestID,
			&entry.Method,
			&entry.Endpoint,
			&entry.StatusCode,
			&durationMs,
			&entry.Success,
			&errMsg,
		)
		if err != nil {
			return nil, err
		}

		entry.ID = fmt.Sprintf("%d", id)
		entry.Service = ServiceType(service)
		entry.RequestID = requestID.String
		entry.Error = errMsg.String
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// GetStats returns audit statistics
func (a *SQLiteAuditLogger) GetStats(ctx context.Context, service ServiceType, since time.Time) (*AuditStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0) as successful,
			AVG(duration_ms) as avg_duration_ms
		FROM audit_log
		WHERE service = ? AND timestamp >= ?
	`

	var stats AuditStats
	var avgDuration sql.NullFloat64

	err := a.db.QueryRowContext(ctx, query, string(service), since).Scan(
		&stats.TotalRequests,
		&stats.SuccessfulRequests,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}

	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64) * time.Millisecond
	}

	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(stats.TotalRequests-stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// Close closes the database connection
func (a *SQLiteAuditLogger) Close() error {
	return a.db.Close()
}

// AuditStats holds audit statistics
type AuditStats struct {
	TotalRequests      int           `json:"total_requests"`
	SuccessfulRequests int           `json:"successful_requests"`
	ErrorRate          float64       `json:"error_rate"`
	AverageDuration    time.Duration `json:"average_duration"`
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
