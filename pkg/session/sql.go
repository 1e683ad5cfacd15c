package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/databases"
	"github.com/wuTims/tau2-bench-agent/pkg/llms"
)

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    context_id VARCHAR(255) PRIMARY KEY,
    messages TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// SQLService is the SQL-backed Service implementation. It supports
// PostgreSQL, MySQL and SQLite via database/sql.
type SQLService struct {
	db      *sql.DB
	dialect string
}

// NewSQLService wraps an open database connection and ensures the schema
// exists.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case databases.DialectSQLite, databases.DialectPostgres, databases.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenSQLService opens the configured database and returns a ready service.
func OpenSQLService(cfg databases.Config) (*SQLService, error) {
	cfg.SetDefaults()
	db, err := databases.Open(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := NewSQLService(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	sess, err := s.getSession(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Session: sess}, nil
}

func (s *SQLService) getSession(ctx context.Context, contextID string) (*Session, error) {
	query := `
SELECT context_id, messages, created_at, updated_at
FROM sessions
WHERE context_id = ?
`
	if s.dialect == databases.DialectPostgres {
		query = `
SELECT context_id, messages, created_at, updated_at
FROM sessions
WHERE context_id = $1
`
	}

	var (
		sess         Session
		messagesJSON string
	)
	err := s.db.QueryRowContext(ctx, query, contextID).Scan(
		&sess.ContextID, &messagesJSON, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return &sess, nil
}

func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	contextID := req.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}

	if _, err := s.getSession(ctx, contextID); err == nil {
		return nil, ErrExists
	} else if err != ErrNotFound {
		return nil, err
	}

	messagesJSON, err := marshalMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
INSERT INTO sessions (context_id, messages, created_at, updated_at)
VALUES (?, ?, ?, ?)
`
	if s.dialect == databases.DialectPostgres {
		query = `
INSERT INTO sessions (context_id, messages, created_at, updated_at)
VALUES ($1, $2, $3, $4)
`
	}

	if _, err := s.db.ExecContext(ctx, query, contextID, messagesJSON, now, now); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return &CreateResponse{Session: &Session{
		ContextID: contextID,
		Messages:  req.Messages,
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil
}

func (s *SQLService) AppendMessage(ctx context.Context, contextID string, msg llms.Message) error {
	sess, err := s.getSession(ctx, contextID)
	if err != nil {
		return err
	}

	messagesJSON, err := marshalMessages(append(sess.Messages, msg))
	if err != nil {
		return err
	}

	query := `
UPDATE sessions
SET messages = ?, updated_at = ?
WHERE context_id = ?
`
	if s.dialect == databases.DialectPostgres {
		query = `
UPDATE sessions
SET messages = $1, updated_at = $2
WHERE context_id = $3
`
	}

	if _, err := s.db.ExecContext(ctx, query, messagesJSON, time.Now().UTC(), contextID); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `
SELECT context_id, messages, created_at, updated_at
FROM sessions
ORDER BY updated_at DESC
`
	if req.Limit > 0 {
		query += fmt.Sprintf("LIMIT %d\n", req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var (
			sess         Session
			messagesJSON string
		)
		if err := rows.Scan(&sess.ContextID, &messagesJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return &ListResponse{Sessions: sessions}, nil
}

func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	query := `DELETE FROM sessions WHERE context_id = ?`
	if s.dialect == databases.DialectPostgres {
		query = `DELETE FROM sessions WHERE context_id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, req.ContextID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLService) Close() error {
	return s.db.Close()
}

func marshalMessages(messages []llms.Message) (string, error) {
	if len(messages) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal messages: %w", err)
	}
	return string(data), nil
}

var _ Service = (*SQLService)(nil)
