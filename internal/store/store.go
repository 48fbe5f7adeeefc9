// Package store provides storage backends for VoiceIntake.
//
// Two contracts are defined: RecordStore keeps one questionnaire record per session
// (read-modify-write, last write wins) and HistoryStore keeps the append-only
// conversation log per session. Backends: in-memory, SQLite, PostgreSQL, MongoDB
// (records) and Redis (history).
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
)

// Collection names the record set a document belongs to.
type Collection string

const (
	// CollectionResponses holds the working record updated on every turn.
	CollectionResponses Collection = "responses"
	// CollectionFinalResponses holds the record the participant confirmed.
	CollectionFinalResponses Collection = "final_responses"
)

// IsValid reports whether c is a known collection.
func (c Collection) IsValid() bool {
	return c == CollectionResponses || c == CollectionFinalResponses
}

// SessionMetadata is written once, when a session's document is first inserted.
type SessionMetadata struct {
	ProlificPID string `json:"prolificPid"`
	TTSVoice    string `json:"ttsVoice"`
}

// ResponseDocument is a stored record with its session metadata.
type ResponseDocument struct {
	SessionID   string               `json:"sessionId"`
	ProlificPID string               `json:"prolificPid"`
	TTSVoice    string               `json:"ttsVoice"`
	Data        questionnaire.Record `json:"data"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session's conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordStore persists one record per session and collection.
type RecordStore interface {
	// GetRecord returns nil, nil when the session has no document.
	GetRecord(ctx context.Context, collection Collection, sessionID string) (*ResponseDocument, error)
	// UpsertRecord replaces the record of sessionID. meta is only written when the
	// document is inserted; later calls never overwrite it.
	UpsertRecord(ctx context.Context, collection Collection, sessionID string, record questionnaire.Record, meta SessionMetadata) error
	Close() error
}

// HistoryStore is the append-only conversation log keyed by session.
type HistoryStore interface {
	// History returns the messages of sessionID in arrival order.
	History(ctx context.Context, sessionID string) ([]Message, error)
	AppendMessages(ctx context.Context, sessionID string, messages ...Message) error
	Close() error
}

// Store is a backend serving both contracts.
type Store interface {
	RecordStore
	HistoryStore
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
	// Database is the database name for document stores.
	Database string
	// HistoryTTL expires idle histories in stores that support it. Zero keeps them.
	HistoryTTL time.Duration
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithMongoURI sets the MongoDB connection URI and database name.
func WithMongoURI(uri, database string) Option {
	return func(o *Opts) {
		o.DSN = uri
		o.Database = database
	}
}

// WithRedisURL sets the Redis connection URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// WithHistoryTTL sets the idle expiry of conversation histories.
func WithHistoryTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.HistoryTTL = ttl }
}

func applyOptions(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL DSNs and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// tableFor maps a collection to its SQL table, rejecting anything unknown.
func tableFor(collection Collection) (string, error) {
	if !collection.IsValid() {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return string(collection), nil
}

// composite serves records and history from separate backends.
type composite struct {
	RecordStore
	history HistoryStore
}

// Combine builds a Store from a record backend and a history backend.
// If both are the same value it is returned unchanged.
func Combine(records RecordStore, history HistoryStore) Store {
	if s, ok := records.(Store); ok && any(records) == any(history) {
		return s
	}
	return &composite{RecordStore: records, history: history}
}

func (c *composite) History(ctx context.Context, sessionID string) ([]Message, error) {
	return c.history.History(ctx, sessionID)
}

func (c *composite) AppendMessages(ctx context.Context, sessionID string, messages ...Message) error {
	return c.history.AppendMessages(ctx, sessionID, messages...)
}

// Close closes both backends and returns the first error.
func (c *composite) Close() error {
	err := c.RecordStore.Close()
	if any(c.RecordStore) == any(c.history) {
		return err
	}
	if herr := c.history.Close(); err == nil {
		err = herr
	}
	return err
}
