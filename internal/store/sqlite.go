// Package store provides storage backends for VoiceIntake.
//
// This file implements an SQLite-backed store for records and conversation history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOptions(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqliteDSN(dsn))
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// sqliteConnParams are appended to every SQLite DSN.
const sqliteConnParams = "_busy_timeout=5000&_journal_mode=WAL"

// sqliteDSN appends the connection parameters, keeping any query the DSN already has.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
		if strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&") {
			sep = ""
		}
	}
	return dsn + sep + sqliteConnParams
}

// GetRecord retrieves the document for a session.
func (s *SQLiteStore) GetRecord(ctx context.Context, collection Collection, sessionID string) (*ResponseDocument, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	query := `SELECT session_id, prolific_pid, tts_voice, data, created_at, updated_at FROM ` + table + ` WHERE session_id = ?`

	doc, err := scanResponseDocument(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetRecord not found", "collection", collection, "sessionID", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get record for session %s: %w", sessionID, err)
	}
	return doc, nil
}

// UpsertRecord stores the record; session metadata is only set on insert.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, collection Collection, sessionID string, record questionnaire.Record, meta SessionMetadata) error {
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, query, sessionID, meta.ProlificPID, meta.TTSVoice, data, now, now); err != nil {
		slog.Error("SQLiteStore UpsertRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return fmt.Errorf("failed to upsert record for session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore UpsertRecord succeeded", "collection", collection, "sessionID", sessionID)
	return nil
}

// History returns the conversation messages of a session in arrival order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, created_at FROM conversation_messages WHERE session_id = ? ORDER BY seq`,
		sessionID)
	if err != nil {
		slog.Error("SQLiteStore History query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Error("SQLiteStore History scan failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return msgs, nil
}

// AppendMessages appends messages to a session's history atomically.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, messages ...Message) error {
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
			`INSERT INTO conversation_messages (message_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, sessionID, string(m.Role), m.Content, m.CreatedAt)
		if err != nil {
			slog.Error("SQLiteStore AppendMessages failed", "error", err, "sessionID", sessionID)
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	slog.Debug("SQLiteStore AppendMessages succeeded", "sessionID", sessionID, "count", len(messages))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
