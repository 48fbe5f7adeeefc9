// Package testutil provides fakes and assertions shared by VoiceIntake tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
)

// ErrUnavailable is returned by FailingStore.
var ErrUnavailable = errors.New("database unavailable")

// FakeModel stands in for the OpenAI client: chat, JSON-mode chat,
// transcription and speech.
type FakeModel struct {
	mu sync.Mutex

	Reply      string
	Extraction string
	Transcript string
	AudioURI   string

	// Requests records every completion request in arrival order.
	Requests []genai.CompletionRequest
}

// NewFakeModel returns a model that extracts record and answers with reply.
func NewFakeModel(t *testing.T, reply string, record questionnaire.Record) *FakeModel {
	t.Helper()
	return &FakeModel{
		Reply:      reply,
		Extraction: string(MustMarshalJSON(t, record)),
		Transcript: "I drink eight glasses of water",
		AudioURI:   "data:audio/mpeg;base64,AAAA",
	}
}

// Complete answers extraction requests with Extraction and all others with Reply.
func (m *FakeModel) Complete(ctx context.Context, req genai.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if req.JSONObject {
		return m.Extraction, nil
	}
	return m.Reply, nil
}

// Transcribe returns Transcript for any non-empty recording.
func (m *FakeModel) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	b, err := io.ReadAll(audio)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", genai.ErrEmptyAudio
	}
	return m.Transcript, nil
}

// Synthesize returns AudioURI for supported voices.
func (m *FakeModel) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if !genai.IsSupportedVoice(voice) {
		return "", genai.ErrUnsupportedVoice
	}
	return m.AudioURI, nil
}

// FailingStore fails every record operation and delegates history to the
// embedded store.
type FailingStore struct {
	store.Store
}

func (FailingStore) GetRecord(ctx context.Context, c store.Collection, sessionID string) (*store.ResponseDocument, error) {
	return nil, ErrUnavailable
}

func (FailingStore) UpsertRecord(ctx context.Context, c store.Collection, sessionID string, r questionnaire.Record, meta store.SessionMetadata) error {
	return ErrUnavailable
}

// RecordWith returns an empty default record with the given answers filled in.
func RecordWith(answers map[questionnaire.FieldKey]string) questionnaire.Record {
	r := questionnaire.DefaultCatalog().EmptyRecord()
	for k, v := range answers {
		r[k] = v
	}
	return r
}

// AssertJSONResponse decodes the envelope and checks its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
