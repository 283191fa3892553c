package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFile is the journal database file name inside the state directory
const DBFile = "treewagon.db"

// Session statuses
const (
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
	StatusFailed    = "failed"
)

// Manager persists the journal of write sessions
type Manager struct {
	db *sql.DB
}

// SessionRecord represents one closed write session
type SessionRecord struct {
	ID         string
	Repository string
	Message    string
	StartTime  time.Time
	EndTime    time.Time
	Status     string // "committed", "aborted", "failed"
	Revision   int64
	Files      int
	Bytes      int64
	Error      string
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	// Initialize schema
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		message TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		revision INTEGER DEFAULT 0,
		files INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_repo_time ON sessions(repository, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// RecordSession records a closed write session
func (m *Manager) RecordSession(record SessionRecord) error {
	// Validate status
	switch record.Status {
	case StatusCommitted, StatusAborted, StatusFailed:
	default:
		return fmt.Errorf("invalid status: %s (must be 'committed', 'aborted', or 'failed')", record.Status)
	}
	if record.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	query := `
		INSERT INTO sessions (id, repository, message, start_time, end_time, status, revision, files, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.Exec(query,
		record.ID,
		record.Repository,
		record.Message,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.Revision,
		record.Files,
		record.Bytes,
		record.Error,
	)

	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}

	return nil
}

const selectColumns = `id, repository, message, start_time, end_time, status, revision, files, bytes, error`

// GetHistory retrieves session history for a repository, newest first
func (m *Manager) GetHistory(repository string, limit int) ([]SessionRecord, error) {
	// Validate limit
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + selectColumns + `
		FROM sessions
		WHERE repository = ?
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.Query(query, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetLastCommitted retrieves the last committed session for a repository
func (m *Manager) GetLastCommitted(repository string) (*SessionRecord, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM sessions
		WHERE repository = ? AND status = 'committed'
		ORDER BY start_time DESC
		LIMIT 1
	`

	record, err := scanRecord(m.db.QueryRow(query, repository))
	if err == sql.ErrNoRows {
		return nil, nil // No committed session found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last commit: %w", err)
	}

	return record, nil
}

// GetAllHistory retrieves session history for all repositories
func (m *Manager) GetAllHistory(limit int) ([]SessionRecord, error) {
	// Validate limit
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + selectColumns + `
		FROM sessions
		ORDER BY start_time DESC
		LIMIT ?
	`

	rows, err := m.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*SessionRecord, error) {
	var record SessionRecord
	var errText sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Repository,
		&record.Message,
		&record.StartTime,
		&record.EndTime,
		&record.Status,
		&record.Revision,
		&record.Files,
		&record.Bytes,
		&errText,
	)
	if err != nil {
		return nil, err
	}
	record.Error = errText.String
	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]SessionRecord, error) {
	var records []SessionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
