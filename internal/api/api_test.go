package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceIntake/internal/interview"
	"github.com/BTreeMap/VoiceIntake/internal/models"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/BTreeMap/VoiceIntake/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReply = "Thanks! How many hours do you sleep per night?"

func extractedRecord(t *testing.T) questionnaire.Record {
	t.Helper()
	return testutil.RecordWith(map[questionnaire.FieldKey]string{questionnaire.FieldWaterIntakePerDay: "8 glasses"})
}

func newTestServer(t *testing.T, st store.Store) *Server {
	t.Helper()
	model := testutil.NewFakeModel(t, testReply, extractedRecord(t))

	cfg := interview.DefaultConfig()
	cfg.QuestionnaireCode = "C1A2B3"
	orch, err := interview.NewOrchestrator(cfg, model, st, interview.WithRandomSource(rand.NewPCG(7, 7)))
	require.NoError(t, err)
	return NewServer(orch, interview.NewPipeline(orch, model, model), "memory")
}

func multipartTurn(t *testing.T, fields map[string]string, audio []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		fw, err := mw.CreateFormFile("audio", "recording.webm")
		require.NoError(t, err)
		_, err = fw.Write(audio)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func readEvents(t *testing.T, body io.Reader) []models.TurnEvent {
	t.Helper()
	var events []models.TurnEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var e models.TurnEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), "line %q", sc.Text())
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func decodeEnvelope(t *testing.T, body io.Reader) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestTurnHandler_StreamsEvents(t *testing.T) {
	st := store.NewInMemoryStore()
	srv := newTestServer(t, st)

	body, contentType := multipartTurn(t, map[string]string{
		"sessionId":   "session-1",
		"prolificPid": "PID42",
		"ttsVoice":    "nova",
		"useTTS":      "true",
		"timestamp":   "1718000000123",
	}, []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/turn", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	srv.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ndjsonContentType, rr.Header().Get("Content-Type"))
	assert.True(t, rr.Flushed)

	events := readEvents(t, rr.Body)
	require.Len(t, events, 5)
	require.NotNil(t, events[0].Transcription)
	assert.Equal(t, "I drink eight glasses of water", *events[0].Transcription)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, testReply, *events[1].Result)
	require.NotNil(t, events[2].Audio)
	require.NotNil(t, events[3].AllQuestionsAnswered)
	assert.False(t, *events[3].AllQuestionsAnswered)
	assert.Equal(t, models.EventStatusDone, events[4].Status)

	doc, err := st.GetRecord(context.Background(), store.CollectionResponses, "session-1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "8 glasses", doc.Data[questionnaire.FieldWaterIntakePerDay])
	assert.Equal(t, "PID42", doc.ProlificPID)
	assert.Equal(t, "nova", doc.TTSVoice)
}

func TestTurnHandler_MissingAudioEmitsError(t *testing.T) {
	st := store.NewInMemoryStore()
	srv := newTestServer(t, st)

	body, contentType := multipartTurn(t, map[string]string{"sessionId": "session-1"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/turn", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	srv.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	events := readEvents(t, rr.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "no audio detected", events[0].Error)

	doc, err := st.GetRecord(context.Background(), store.CollectionResponses, "session-1")
	require.NoError(t, err)
	assert.Nil(t, doc, "nothing is persisted for a rejected turn")
}

func TestTurnHandler_StorageFailureEmitsError(t *testing.T) {
	srv := newTestServer(t, testutil.FailingStore{Store: store.NewInMemoryStore()})

	body, contentType := multipartTurn(t, map[string]string{"sessionId": "session-1"}, []byte("webm"))
	req := httptest.NewRequest(http.MethodPost, "/turn", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	srv.Router().ServeHTTP(rr, req)

	events := readEvents(t, rr.Body)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "Something went wrong. Please try again.", last.Error)
	for _, e := range events {
		assert.Nil(t, e.Result, "no reply is shown for a failed turn")
	}
}

func TestTurnHandler_NotMultipart(t *testing.T) {
	srv := newTestServer(t, store.NewInMemoryStore())
	req := httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader(`{"sessionId":"s"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeEnvelope(t, rr.Body)
	assert.Equal(t, string(models.APIStatusError), resp.Status)
}

func TestResponsesHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	srv := newTestServer(t, st)
	ctx := context.Background()

	require.NoError(t, st.UpsertRecord(ctx, store.CollectionResponses, "known", extractedRecord(t), store.SessionMetadata{ProlificPID: "lab"}))
	broken := questionnaire.Record{questionnaire.FieldWaterIntakePerDay: "8"}
	require.NoError(t, st.UpsertRecord(ctx, store.CollectionResponses, "broken", broken, store.SessionMetadata{}))

	tests := []struct {
		name     string
		query    string
		srv      *Server
		wantCode int
	}{
		{"missing session", "", srv, http.StatusBadRequest},
		{"unknown session", "?sessionId=unknown", srv, http.StatusNotFound},
		{"invalid stored record", "?sessionId=broken", srv, http.StatusNotFound},
		{"known session", "?sessionId=known", srv, http.StatusOK},
		{"storage failure", "?sessionId=known", newTestServer(t, testutil.FailingStore{Store: st}), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/responses"+tt.query, nil))
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/responses?sessionId=known", nil))
	var resp struct {
		Status string            `json:"status"`
		Result map[string]string `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "8 glasses", resp.Result[string(questionnaire.FieldWaterIntakePerDay)])
	assert.Len(t, resp.Result, questionnaire.DefaultCatalog().Len())
}

func TestFinalResponsesHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	srv := newTestServer(t, st)

	valid := map[string]string{}
	for k, v := range extractedRecord(t) {
		valid[string(k)] = v
	}
	validBody, err := json.Marshal(models.FinalResponsesRequest{SessionID: "s1", ProlificPID: "PID7", TTSVoice: "echo", Responses: valid})
	require.NoError(t, err)

	tests := []struct {
		name     string
		body     string
		srv      *Server
		wantCode int
	}{
		{"invalid json", `{"sessionId":`, srv, http.StatusBadRequest},
		{"missing session", `{"responses":{}}`, srv, http.StatusBadRequest},
		{"session not a string", `{"sessionId":5,"responses":{}}`, srv, http.StatusBadRequest},
		{"missing responses", `{"sessionId":"s1"}`, srv, http.StatusBadRequest},
		{"responses not an object", `{"sessionId":"s1","responses":"yes"}`, srv, http.StatusBadRequest},
		{"incomplete responses", `{"sessionId":"s1","responses":{"waterIntakePerDay":"8"}}`, srv, http.StatusBadRequest},
		{"storage failure", string(validBody), newTestServer(t, testutil.FailingStore{Store: st}), http.StatusInternalServerError},
		{"valid", string(validBody), srv, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/finalResponses", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			tt.srv.Router().ServeHTTP(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finalResponses", bytes.NewReader(validBody)))
	resp := decodeEnvelope(t, rr.Body)
	assert.Equal(t, "Final responses saved successfully", resp.Message)
	assert.Equal(t, map[string]interface{}{"questionnaireCode": "C1A2B3"}, resp.Result)

	doc, err := st.GetRecord(context.Background(), store.CollectionFinalResponses, "s1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "PID7", doc.ProlificPID)
	assert.Equal(t, "echo", doc.TTSVoice)
	assert.True(t, doc.Data.Equal(extractedRecord(t)))

	working, err := st.GetRecord(context.Background(), store.CollectionResponses, "s1")
	require.NoError(t, err)
	assert.Nil(t, working, "final responses do not touch the working record")
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, store.NewInMemoryStore())
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	resp := testutil.AssertJSONResponse(t, rr, string(models.APIStatusOK))
	assert.Equal(t, map[string]interface{}{"store": "memory"}, resp["result"])
}

func TestCORSPreflight(t *testing.T) {
	model := testutil.NewFakeModel(t, testReply, extractedRecord(t))
	orch, err := interview.NewOrchestrator(interview.DefaultConfig(), model, store.NewInMemoryStore())
	require.NoError(t, err)
	srv := NewServer(orch, interview.NewPipeline(orch, model, model), "memory", WithAllowedOrigins("https://study.example.org"))

	req := httptest.NewRequest(http.MethodOptions, "/turn", nil)
	req.Header.Set("Origin", "https://study.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, "https://study.example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestApplyOptions(t *testing.T) {
	cfg := applyOptions(nil)
	assert.Equal(t, DefaultServerAddress, cfg.Addr)
	assert.Equal(t, DefaultMaxUploadBytes, cfg.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)

	cfg = applyOptions([]Option{WithAddr(":9090"), WithMaxUploadBytes(1024), WithAllowedOrigins("http://localhost:3000")})
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, parseTimestamp("").IsZero())
	assert.True(t, parseTimestamp("soon").IsZero())
	assert.Equal(t, int64(1718000000123), parseTimestamp("1718000000123").UnixMilli())
}

func TestEventStream_StopsAfterTerminalEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	stream := newEventStream(rec)

	require.NoError(t, stream.Emit(models.ResultEvent("hello")))
	require.NoError(t, stream.Emit(models.DoneEvent()))
	assert.ErrorIs(t, stream.Emit(models.ErrorEvent("late")), errStreamClosed)

	assert.Equal(t, ndjsonContentType, rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, rec.Body.String(), "late")
}
