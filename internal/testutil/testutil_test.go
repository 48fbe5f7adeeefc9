package testutil

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
)

func TestFakeModel(t *testing.T) {
	record := RecordWith(map[questionnaire.FieldKey]string{questionnaire.FieldSleepHoursPerNight: "7"})
	m := NewFakeModel(t, "Thanks!", record)
	ctx := context.Background()

	reply, err := m.Complete(ctx, genai.CompletionRequest{})
	if err != nil || reply != "Thanks!" {
		t.Errorf("unexpected reply %q, %v", reply, err)
	}
	raw, err := m.Complete(ctx, genai.CompletionRequest{JSONObject: true})
	if err != nil {
		t.Fatalf("extraction: %v", err)
	}
	parsed, err := questionnaire.DefaultCatalog().ParseRecord([]byte(raw))
	if err != nil {
		t.Fatalf("fake extraction must be a valid record: %v", err)
	}
	if !parsed.Equal(record) {
		t.Errorf("expected %v, got %v", record, parsed)
	}
	if len(m.Requests) != 2 {
		t.Errorf("expected 2 recorded requests, got %d", len(m.Requests))
	}

	if _, err := m.Transcribe(ctx, strings.NewReader(""), "a.webm"); !errors.Is(err, genai.ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
	if text, _ := m.Transcribe(ctx, strings.NewReader("x"), "a.webm"); text != m.Transcript {
		t.Errorf("unexpected transcript %q", text)
	}
	if _, err := m.Synthesize(ctx, "hi", "robot"); !errors.Is(err, genai.ErrUnsupportedVoice) {
		t.Errorf("expected ErrUnsupportedVoice, got %v", err)
	}
}

func TestFailingStore(t *testing.T) {
	s := FailingStore{Store: store.NewInMemoryStore()}
	ctx := context.Background()
	if _, err := s.GetRecord(ctx, store.CollectionResponses, "s1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := s.UpsertRecord(ctx, store.CollectionResponses, "s1", RecordWith(nil), store.SessionMetadata{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if err := s.AppendMessages(ctx, "s1", store.Message{ID: "m1", Role: store.RoleUser, Content: "hi"}); err != nil {
		t.Errorf("history should be delegated, got %v", err)
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"store":"memory"}}`)
	resp := AssertJSONResponse(t, rr, "ok")
	if _, ok := resp["result"].(map[string]interface{}); !ok {
		t.Errorf("expected result object, got %v", resp["result"])
	}
}
