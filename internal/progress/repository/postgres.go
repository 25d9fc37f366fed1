package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight/finsight/internal/common/config"
	v1 "github.com/finsight/finsight/pkg/api/v1"
)

// PostgresRepository provides PostgreSQL-based progress log storage
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Ensure PostgresRepository implements Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg config.DatabaseConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}

	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist
func (r *PostgresRepository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress_logs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		step INTEGER,
		total_steps INTEGER,
		details JSONB NOT NULL DEFAULT '{}',
		timestamp_ms BIGINT,
		raw_timestamp TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_logs_session_id ON progress_logs(session_id);
	`

	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Append stores an entry at the end of a session's log list
func (r *PostgresRepository) Append(ctx context.Context, sessionID string, entry *v1.ProgressLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	details, err := json.Marshal(entry.Details)
	if err != nil || entry.Details == nil {
		details = []byte("{}")
	}

	var timestampMS *int64
	rawTimestamp := ""
	if entry.Timestamp.Valid() {
		ms := entry.Timestamp.Time().UnixMilli()
		timestampMS = &ms
	} else {
		rawTimestamp = entry.Timestamp.Raw()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO progress_logs (id, session_id, level, message, step, total_steps, details, timestamp_ms, raw_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, sessionID, string(entry.Level), entry.Message, entry.Step, entry.TotalSteps, details, timestampMS, rawTimestamp, time.Now().UTC())

	return err
}

// List returns all entries for a session in arrival order
func (r *PostgresRepository) List(ctx context.Context, sessionID string) ([]*v1.ProgressLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, level, message, step, total_steps, details, timestamp_ms, raw_timestamp
		FROM progress_logs WHERE session_id = $1 ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPgxLogs(rows)
}

// Clear removes all entries for a session
func (r *PostgresRepository) Clear(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM progress_logs WHERE session_id = $1`, sessionID)
	return err
}

// Sessions returns the identifiers of all sessions with stored entries
func (r *PostgresRepository) Sessions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT session_id FROM progress_logs ORDER BY session_id`)
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

// scanPgxLogs reads log rows into progress log entries
func scanPgxLogs(rows pgx.Rows) ([]*v1.ProgressLog, error) {
	var result []*v1.ProgressLog
	for rows.Next() {
		entry := &v1.ProgressLog{}
		var (
			level       string
			details     []byte
			timestampMS *int64
			rawTS       string
		)

		if err := rows.Scan(&entry.ID, &level, &entry.Message, &entry.Step, &entry.TotalSteps, &details, &timestampMS, &rawTS); err != nil {
			return nil, err
		}

		entry.Level = v1.LogLevel(level)
		if len(details) > 0 && string(details) != "{}" {
			_ = json.Unmarshal(details, &entry.Details)
		}
		if timestampMS != nil {
			entry.Timestamp = v1.NewTimestamp(time.UnixMilli(*timestampMS))
		} else {
			entry.Timestamp = v1.InvalidTimestamp(rawTS)
		}

		result = append(result, entry)
	}
	return result, rows.Err()
}
