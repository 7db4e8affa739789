package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. The audit table is append
// only; rotation is handled by an external retention job.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_audit_log (
			id             TEXT PRIMARY KEY,
			ts             TIMESTAMPTZ NOT NULL,
			action         TEXT NOT NULL,
			file_hashes    TEXT[] NOT NULL DEFAULT '{}',
			result         TEXT NOT NULL,
			security_flags TEXT[] NOT NULL DEFAULT '{}',
			model          TEXT,
			token_usage    JSONB,
			request_id     TEXT,
			error          TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS analysis_audit_log_ts_idx ON analysis_audit_log (ts DESC)`)
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	var usageJSON []byte
	if entry.TokenUsage != nil {
		usageJSON, _ = json.Marshal(entry.TokenUsage)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_audit_log (
			id, ts, action, file_hashes, result, security_flags,
			model, token_usage, request_id, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Timestamp, string(entry.Action),
		pq.Array(entry.FileHashes), string(entry.Result), pq.Array(entry.SecurityFlags),
		entry.Model, nullableJSON(usageJSON), entry.RequestID, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent implements Store, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, file_hashes, result, security_flags,
		       model, token_usage, request_id, error
		FROM analysis_audit_log
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var action, result string
		var model, requestID, errMsg sql.NullString
		var usage sql.NullString
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &action, pq.Array(&e.FileHashes), &result,
			pq.Array(&e.SecurityFlags), &model, &usage, &requestID, &errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = Action(action)
		e.Result = Result(result)
		e.Model = model.String
		e.RequestID = requestID.String
		e.Error = errMsg.String
		if usage.Valid && usage.String != "" {
			var tu types.TokenUsage
			if err := json.Unmarshal([]byte(usage.String), &tu); err == nil {
				e.TokenUsage = &tu
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
