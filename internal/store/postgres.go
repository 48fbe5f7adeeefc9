// Package store provides storage backends for VoiceIntake.
//
// This file implements a PostgreSQL-backed store for records and conversation history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
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

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOptions(opts)
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
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, collection Collection, sessionID string) (*ResponseDocument, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	query := `SELECT session_id, prolific_pid, tts_voice, data, created_at, updated_at FROM ` + table + ` WHERE session_id = $1`

	doc, err := scanResponseDocument(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get record for session %s: %w", sessionID, err)
	}
	return doc, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, collection Collection, sessionID string, record questionnaire.Record, meta SessionMetadata) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	data, err := marshalRecord(record)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + table + ` (session_id, prolific_pid, tts_voice, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, sessionID, meta.ProlificPID, meta.TTSVoice, data, time.Now()); err != nil {
		slog.Error("PostgresStore UpsertRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return fmt.Errorf("failed to upsert record for session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore UpsertRecord succeeded", "collection", collection, "sessionID", sessionID)
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, created_at FROM conversation_messages WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		slog.Error("PostgresStore History query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (message_id, session_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, sessionID, string(m.Role), m.Content, m.CreatedAt)
		if err != nil {
			slog.Error("PostgresStore AppendMessages failed", "error", err, "sessionID", sessionID)
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
