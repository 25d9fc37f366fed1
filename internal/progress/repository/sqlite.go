package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// SQLiteRepository provides SQLite-based progress log storage
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist.
// seq preserves arrival order within a session; valid timestamps are stored
// as epoch milliseconds and unparseable ones keep their raw wire value.
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT DEFAULT '',
		step INTEGER,
		total_steps INTEGER,
		details TEXT DEFAULT '{}',
		timestamp_ms INTEGER,
		raw_timestamp TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_logs_session_id ON progress_logs(session_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Append stores an entry at the end of a session's log list
func (r *SQLiteRepository) Append(ctx context.Context, sessionID string, entry *v1.ProgressLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		details = []byte("{}")
	}

	var timestampMS sql.NullInt64
	rawTimestamp := ""
	if entry.Timestamp.Valid() {
		timestampMS = sql.NullInt64{Int64: entry.Timestamp.Time().UnixMilli(), Valid: true}
	} else {
		rawTimestamp = entry.Timestamp.Raw()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO progress_logs (id, session_id, level, message, step, total_steps, details, timestamp_ms, raw_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, sessionID, string(entry.Level), entry.Message, nullableInt(entry.Step), nullableInt(entry.TotalSteps), string(details), timestampMS, rawTimestamp, time.Now().UTC())

	return err
}

// List returns all entries for a session in arrival order
func (r *SQLiteRepository) List(ctx context.Context, sessionID string) ([]*v1.ProgressLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, level, message, step, total_steps, details, timestamp_ms, raw_timestamp
		FROM progress_logs WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogs(rows)
}

// Clear removes all entries for a session
func (r *SQLiteRepository) Clear(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM progress_logs WHERE session_id = ?`, sessionID)
	return err
}

// Sessions returns the identifiers of all sessions with stored entries
func (r *SQLiteRepository) Sessions(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM progress_logs ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var sessionID string
		if err := rows.Scan(&sessionID); err != nil {
			return nil, err
		}
		result = append(result, sessionID)
	}
	return result, rows.Err()
}

// scanLogs reads log rows into progress log entries
func scanLogs(rows *sql.Rows) ([]*v1.ProgressLog, error) {
	var result []*v1.ProgressLog
	for rows.Next() {
		entry := &v1.ProgressLog{}
		var (
			level       string
			step        sql.NullInt64
			totalSteps  sql.NullInt64
			details     string
			timestampMS sql.NullInt64
			rawTS       string
		)

		if err := rows.Scan(&entry.ID, &level, &entry.Message, &step, &totalSteps, &details, &timestampMS, &rawTS); err != nil {
			return nil, err
		}

		entry.Level = v1.LogLevel(level)
		if step.Valid {
			s := int(step.Int64)
			entry.Step = &s
		}
		if totalSteps.Valid {
			ts := int(totalSteps.Int64)
			entry.TotalSteps = &ts
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &entry.Details)
		}
		if timestampMS.Valid {
			entry.Timestamp = v1.NewTimestamp(time.UnixMilli(timestampMS.Int64))
		} else {
			entry.Timestamp = v1.InvalidTimestamp(rawTS)
		}

		result = append(result, entry)
	}
	return result, rows.Err()
}

// nullableInt converts an optional int to a driver-friendly value
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
