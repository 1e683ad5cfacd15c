package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wuTims/tau2-bench-agent/pkg/databases"
	"github.com/wuTims/tau2-bench-agent/pkg/runner"
)

const createResultsTableSQL = `
CREATE TABLE IF NOT EXISTS evaluation_results (
    evaluation_id VARCHAR(255) PRIMARY KEY,
    domain VARCHAR(255) NOT NULL,
    simulations INTEGER NOT NULL,
    successes INTEGER NOT NULL,
    results TEXT NOT NULL,
    saved_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluation_results_saved_at ON evaluation_results(saved_at);
`

// SQLStore is the SQL-backed Store implementation. Results are serialised
// into a JSON column; summary fields are denormalised for listing.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database connection and ensures the schema
// exists.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case databases.DialectSQLite, databases.DialectPostgres, databases.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenSQLStore opens the configured database and returns a ready store.
func OpenSQLStore(cfg databases.Config) (*SQLStore, error) {
	cfg.SetDefaults()
	db, err := databases.Open(cfg)
	if err != nil {
		return nil, err
	}
	st, err := NewSQLStore(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createResultsTableSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveResult(ctx context.Context, evaluationID string, results *runner.Results) error {
	data, err := encodeResults(evaluationID, results)
	if err != nil {
		return err
	}
	summary := summarise(evaluationID, results, time.Now().UTC())

	exists, err := s.exists(ctx, evaluationID)
	if err != nil {
		return err
	}

	if exists {
		query := `
UPDATE evaluation_results
SET domain = ?, simulations = ?, successes = ?, results = ?, saved_at = ?
WHERE evaluation_id = ?
`
		if s.dialect == databases.DialectPostgres {
			query = `
UPDATE evaluation_results
SET domain = $1, simulations = $2, successes = $3, results = $4, saved_at = $5
WHERE evaluation_id = $6
`
		}
		if _, err := s.db.ExecContext(ctx, query,
			summary.Domain, summary.Simulations, summary.Successes,
			string(data), summary.SavedAt, evaluationID,
		); err != nil {
			return fmt.Errorf("failed to update results: %w", err)
		}
		return nil
	}

	query := `
INSERT INTO evaluation_results (evaluation_id, domain, simulations, successes, results, saved_at)
VALUES (?, ?, ?, ?, ?, ?)
`
	if s.dialect == databases.DialectPostgres {
		query = `
INSERT INTO evaluation_results (evaluation_id, domain, simulations, successes, results, saved_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	}
	if _, err := s.db.ExecContext(ctx, query,
		evaluationID, summary.Domain, summary.Simulations, summary.Successes,
		string(data), summary.SavedAt,
	); err != nil {
		return fmt.Errorf("failed to insert results: %w", err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, evaluationID string) (bool, error) {
	query := `SELECT 1 FROM evaluation_results WHERE evaluation_id = ?`
	if s.dialect == databases.DialectPostgres {
		query = `SELECT 1 FROM evaluation_results WHERE evaluation_id = $1`
	}

	var one int
	err := s.db.QueryRowContext(ctx, query, evaluationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query results: %w", err)
	}
	return true, nil
}

func (s *SQLStore) GetResult(ctx context.Context, evaluationID string) (*runner.Results, error) {
	query := `SELECT results FROM evaluation_results WHERE evaluation_id = ?`
	if s.dialect == databases.DialectPostgres {
		query = `SELECT results FROM evaluation_results WHERE evaluation_id = $1`
	}

	var data string
	err := s.db.QueryRowContext(ctx, query, evaluationID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	return decodeResults([]byte(data))
}

func (s *SQLStore) ListResults(ctx context.Context) ([]Summary, error) {
	query := `
SELECT evaluation_id, domain, simulations, successes, saved_at
FROM evaluation_results
ORDER BY saved_at DESC
`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.EvaluationID, &sum.Domain, &sum.Simulations, &sum.Successes, &sum.SavedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return summaries, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
