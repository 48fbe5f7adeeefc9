package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config selects the backends Open connects to.
type Config struct {
	// SQLDSN is a PostgreSQL DSN or an SQLite file path.
	SQLDSN string
	// MongoURI, when set, moves records to MongoDB.
	MongoURI      string
	MongoDatabase string
	// RedisURL, when set, moves conversation history to Redis.
	RedisURL   string
	HistoryTTL time.Duration
}

// Open connects the configured backends. Records go to MongoDB when a URI is
// set and history to Redis when a URL is set; everything else is served by the
// SQL store, or by memory when no DSN is configured either.
func Open(ctx context.Context, cfg Config) (Store, string, error) {
	var (
		records  RecordStore
		history  HistoryStore
		sqlKind  string
		sqlStore Store
		closers  []func() error
	)
	fail := func(err error) (Store, string, error) {
		for _, c := range closers {
			_ = c()
		}
		return nil, "", err
	}

	needSQL := cfg.MongoURI == "" || cfg.RedisURL == ""
	if needSQL {
		switch {
		case cfg.SQLDSN == "":
			sqlStore, sqlKind = NewInMemoryStore(), "memory"
		case DetectDSNType(cfg.SQLDSN) == "postgres":
			pg, err := NewPostgresStore(WithPostgresDSN(cfg.SQLDSN))
			if err != nil {
				return fail(fmt.Errorf("failed to open postgres store: %w", err))
			}
			sqlStore, sqlKind = pg, "postgres"
		default:
			lite, err := NewSQLiteStore(WithSQLiteDSN(cfg.SQLDSN))
			if err != nil {
				return fail(fmt.Errorf("failed to open sqlite store: %w", err))
			}
			sqlStore, sqlKind = lite, "sqlite"
		}
		closers = append(closers, sqlStore.Close)
	}

	recordKind, historyKind := sqlKind, sqlKind
	if cfg.MongoURI != "" {
		m, err := NewMongoRecordStore(ctx, WithMongoURI(cfg.MongoURI, cfg.MongoDatabase))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, m.Close)
		records, recordKind = m, "mongodb"
	} else {
		records = sqlStore
	}
	if cfg.RedisURL != "" {
		r, err := NewRedisHistoryStore(ctx, WithRedisURL(cfg.RedisURL), WithHistoryTTL(cfg.HistoryTTL))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, r.Close)
		history, historyKind = r, "redis"
	} else {
		history = sqlStore
	}

	kind := recordKind
	if historyKind != recordKind {
		kind = recordKind + "+" + historyKind
	}
	slog.Info("Store backends opened", "records", recordKind, "history", historyKind)
	return Combine(records, history), kind, nil
}
