// Package usage provides persistent tracking of model generations and
// request outcomes. Records are append-only and indexed by timestamp,
// session, and request for efficient aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Generation represents a single model generation's token usage.
type Generation struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	RequestID    string
	Cycle        int
	Mode         string // "chat", "ask"
	Model        string
	PromptTokens int
	OutputTokens int
	DurationMs   int64
}

// Request represents one completed user request and its outcome.
type Request struct {
	ID        string
	Timestamp time.Time
	SessionID string
	Mode      string // "chat", "ask"
	Outcome   string // "done", "failed", "max_interactions", "cancelled"
	Cycles    int
	ElapsedMs int64
}

// Summary holds aggregated generation totals.
type Summary struct {
	TotalGenerations  int
	TotalPromptTokens int64
	TotalOutputTokens int64
	TotalDurationMs   int64
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		session_id    TEXT,
		request_id    TEXT NOT NULL,
		cycle         INTEGER NOT NULL,
		mode          TEXT NOT NULL,
		model         TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		duration_ms   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_generations_timestamp ON generations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_generations_session ON generations(session_id);
	CREATE INDEX IF NOT EXISTS idx_generations_request ON generations(request_id);

	CREATE TABLE IF NOT EXISTS requests (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		session_id TEXT,
		mode       TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		cycles     INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
	CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordGeneration persists one generation. If gen.ID is empty, a
// UUIDv7 is generated. The context is used for cancellation only.
func (s *Store) RecordGeneration(ctx context.Context, gen Generation) error {
	if gen.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		gen.ID = id.String()
	}
	if gen.Timestamp.IsZero() {
		gen.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations
			(id, timestamp, session_id, request_id, cycle, mode, model,
			 prompt_tokens, output_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gen.ID,
		gen.Timestamp.UTC().Format(time.RFC3339),
		gen.SessionID,
		gen.RequestID,
		gen.Cycle,
		gen.Mode,
		gen.Model,
		gen.PromptTokens,
		gen.OutputTokens,
		gen.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// RecordRequest persists one completed request. If req.ID is empty, a
// UUIDv7 is generated.
func (s *Store) RecordRequest(ctx context.Context, req Request) error {
	if req.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		req.ID = id.String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests
			(id, timestamp, session_id, mode, outcome, cycles, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.Timestamp.UTC().Format(time.RFC3339),
		req.SessionID,
		req.Mode,
		req.Outcome,
		req.Cycles,
		req.ElapsedMs,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Summary returns aggregated generation totals within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(duration_ms), 0)
		 FROM generations
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalGenerations, &sum.TotalPromptTokens, &sum.TotalOutputTokens, &sum.TotalDurationMs); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model generation totals within [start, end).
func (s *Store) SummaryByModel(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("model", start, end)
}

// SummaryByMode returns per-mode generation totals within [start, end).
func (s *Store) SummaryByMode(start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy("mode", start, end)
}

func (s *Store) summaryGroupedBy(column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a compile-time constant from our own methods,
	// never user input, so embedding it directly is safe.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(duration_ms), 0)
		 FROM generations
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY SUM(output_tokens) DESC`,
		column, column,
	)

	rows, err := s.db.Query(query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalGenerations, &sum.TotalPromptTokens, &sum.TotalOutputTokens, &sum.TotalDurationMs); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// RequestOutcomes returns how many requests finished with each outcome
// within [start, end).
func (s *Store) RequestOutcomes(start, end time.Time) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT outcome, COUNT(*)
		 FROM requests
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY outcome`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query request outcomes: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan request outcomes: %w", err)
		}
		result[outcome] = count
	}
	return result, rows.Err()
}
