package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TemplateDesk/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore keeps the exchange log and outbox in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks that PostgresStore implements both repositories.
var (
	_ Store      = (*PostgresStore)(nil)
	_ OutboxRepo = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddExchange(rec models.ExchangeRecord) (models.ExchangeRecord, error) {
	err := s.db.QueryRow(
		`INSERT INTO exchanges (workspace_id, template_id, instruction, outcome, detail, time)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		rec.WorkspaceID, rec.TemplateID, rec.Instruction, rec.Outcome, nilIfEmpty(rec.Detail), rec.Time,
	).Scan(&rec.ID)
	if err != nil {
		slog.Error("PostgresStore AddExchange failed", "error", err, "template_id", rec.TemplateID)
		return rec, fmt.Errorf("failed to insert exchange for template %s: %w", rec.TemplateID, err)
	}
	slog.Debug("PostgresStore AddExchange succeeded", "id", rec.ID, "outcome", rec.Outcome)
	return rec, nil
}

func (s *PostgresStore) ListExchanges(workspaceID, templateID string, limit int) ([]models.ExchangeRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, template_id, instruction, outcome, detail, time FROM exchanges
		 WHERE ($1::text = '' OR workspace_id = $1) AND ($2::text = '' OR template_id = $2)
		 ORDER BY id DESC LIMIT $3`,
		workspaceID, templateID, clampLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore ListExchanges query failed", "error", err)
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()
	return scanExchangeRows(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
