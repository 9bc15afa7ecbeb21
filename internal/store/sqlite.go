package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/TemplateDesk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps the exchange log and outbox in an SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time checks that SQLiteStore implements both repositories.
var (
	_ Store      = (*SQLiteStore)(nil)
	_ OutboxRepo = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database file named by the DSN option, creating
// its directory and tables when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// The sender and the request handlers share one writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddExchange(rec models.ExchangeRecord) (models.ExchangeRecord, error) {
	res, err := s.db.Exec(
		`INSERT INTO exchanges (workspace_id, template_id, instruction, outcome, detail, time) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.WorkspaceID, rec.TemplateID, rec.Instruction, rec.Outcome, nilIfEmpty(rec.Detail), rec.Time,
	)
	if err != nil {
		slog.Error("SQLiteStore AddExchange failed", "error", err, "template_id", rec.TemplateID)
		return rec, fmt.Errorf("failed to insert exchange for template %s: %w", rec.TemplateID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	slog.Debug("SQLiteStore AddExchange succeeded", "id", rec.ID, "outcome", rec.Outcome)
	return rec, nil
}

func (s *SQLiteStore) ListExchanges(workspaceID, templateID string, limit int) ([]models.ExchangeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, template_id, instruction, outcome, detail, time FROM exchanges
		 WHERE (? = '' OR workspace_id = ?) AND (? = '' OR template_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		workspaceID, workspaceID, templateID, templateID, clampLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore ListExchanges query failed", "error", err)
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()
	return scanExchangeRows(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
