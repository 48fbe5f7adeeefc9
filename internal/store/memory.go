package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a process-local Store for tests and DSN-less runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	documents map[Collection]map[string]ResponseDocument
	histories map[string][]Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		documents: map[Collection]map[string]ResponseDocument{
			CollectionResponses:      {},
			CollectionFinalResponses: {},
		},
		histories: make(map[string][]Message),
	}
}

func (s *InMemoryStore) GetRecord(ctx context.Context, collection Collection, sessionID string) (*ResponseDocument, error) {
	if !collection.IsValid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[collection][sessionID]
	if !ok {
		return nil, nil
	}
	doc.Data = doc.Data.Clone()
	return &doc, nil
}

func (s *InMemoryStore) UpsertRecord(ctx context.Context, collection Collection, sessionID string, record questionnaire.Record, meta SessionMetadata) error {
	if !collection.IsValid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	doc, exists := s.documents[collection][sessionID]
	if !exists {
		doc = ResponseDocument{
			SessionID:   sessionID,
			ProlificPID: meta.ProlificPID,
			TTSVoice:    meta.TTSVoice,
			CreatedAt:   now,
		}
	}
	doc.Data = record.Clone()
	doc.UpdatedAt = now
	s.documents[collection][sessionID] = doc
	slog.Debug("InMemoryStore UpsertRecord succeeded", "collection", collection, "sessionID", sessionID, "inserted", !exists)
	return nil
}

func (s *InMemoryStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.histories[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AppendMessages(ctx context.Context, sessionID string, messages ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[sessionID] = append(s.histories[sessionID], messages...)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
