package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "honesty-experiment"

// DefaultMongoTimeout bounds connecting and pinging the deployment.
const DefaultMongoTimeout = 10 * time.Second

// Compile-time check that MongoRecordStore implements RecordStore.
var _ RecordStore = (*MongoRecordStore)(nil)

// mongoDocument is the BSON shape of a ResponseDocument.
type mongoDocument struct {
	SessionID   string            `bson:"sessionId"`
	ProlificPID string            `bson:"prolificPid"`
	TTSVoice    string            `bson:"ttsVoice"`
	Data        map[string]string `bson:"data"`
	CreatedAt   time.Time         `bson:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt"`
}

// MongoRecordStore keeps records in the responses and final_responses collections.
type MongoRecordStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoRecordStore connects to MongoDB using WithMongoURI.
func NewMongoRecordStore(ctx context.Context, opts ...Option) (*MongoRecordStore, error) {
	cfg := applyOptions(opts)
	if cfg.DSN == "" {
		slog.Error("MongoRecordStore URI not set")
		return nil, fmt.Errorf("mongodb URI not set")
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultMongoTimeout)
	defer cancel()

	serverAPI := options.ServerAPI(options.ServerAPIVersion1).SetStrict(true).SetDeprecationErrors(true)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN).SetServerAPIOptions(serverAPI))
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		slog.Error("MongoDB ping failed", "error", err)
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	s := &MongoRecordStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	slog.Debug("MongoRecordStore connected", "database", dbName)
	return s, nil
}

// ensureIndexes makes sessionId unique in both record collections so that
// concurrent first upserts of a session cannot insert two documents.
func (s *MongoRecordStore) ensureIndexes(ctx context.Context) error {
	for _, c := range []Collection{CollectionResponses, CollectionFinalResponses} {
		_, err := s.db.Collection(string(c)).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			slog.Error("MongoRecordStore index creation failed", "error", err, "collection", c)
			return fmt.Errorf("failed to create sessionId index on %s: %w", c, err)
		}
	}
	return nil
}

func (s *MongoRecordStore) GetRecord(ctx context.Context, collection Collection, sessionID string) (*ResponseDocument, error) {
	if !collection.IsValid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	var doc mongoDocument
	err := s.db.Collection(string(collection)).FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoRecordStore GetRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get record for session %s: %w", sessionID, err)
	}

	data := make(questionnaire.Record, len(doc.Data))
	for k, v := range doc.Data {
		data[questionnaire.FieldKey(k)] = v
	}
	return &ResponseDocument{
		SessionID:   doc.SessionID,
		ProlificPID: doc.ProlificPID,
		TTSVoice:    doc.TTSVoice,
		Data:        data,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (s *MongoRecordStore) UpsertRecord(ctx context.Context, collection Collection, sessionID string, record questionnaire.Record, meta SessionMetadata) error {
	if !collection.IsValid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	data := make(bson.M, len(record))
	for k, v := range record {
		data[string(k)] = v
	}
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"data":      data,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"prolificPid": meta.ProlificPID,
			"ttsVoice":    meta.TTSVoice,
			"createdAt":   now,
		},
	}
	coll := s.db.Collection(string(collection))
	filter := bson.M{"sessionId": sessionID}
	_, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// Lost an insert race for a new session; the document exists now.
		slog.Debug("MongoRecordStore UpsertRecord retrying after duplicate key", "collection", collection, "sessionID", sessionID)
		_, err = coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	}
	if err != nil {
		slog.Error("MongoRecordStore UpsertRecord failed", "error", err, "collection", collection, "sessionID", sessionID)
		return fmt.Errorf("failed to upsert record for session %s: %w", sessionID, err)
	}
	slog.Debug("MongoRecordStore UpsertRecord succeeded", "collection", collection, "sessionID", sessionID)
	return nil
}

// Close disconnects the client.
func (s *MongoRecordStore) Close() error {
	return s.client.Disconnect(context.Background())
}
