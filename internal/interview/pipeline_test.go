package interview

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/models"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTranscriber struct {
	text     string
	err      error
	filename string
	body     string
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	m.filename = filename
	b, _ := io.ReadAll(audio)
	m.body = string(b)
	return m.text, m.err
}

type mockSynthesizer struct {
	err   error
	voice string
	text  string
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text, voice string) (string, error) {
	m.voice = voice
	m.text = text
	if m.err != nil {
		return "", m.err
	}
	return "data:audio/mpeg;base64,AAAA", nil
}

type eventRecorder struct {
	events []models.TurnEvent
}

func (r *eventRecorder) emit(e models.TurnEvent) error {
	r.events = append(r.events, e)
	return nil
}

func newTestPipeline(t *testing.T, tr *mockTranscriber, syn *mockSynthesizer) (*Pipeline, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	catalog := questionnaire.DefaultCatalog()
	o := newTestOrchestrator(t, &scriptedClient{extraction: recordJSON(t, catalog.EmptyRecord())}, st)
	if syn == nil {
		return NewPipeline(o, tr, nil), st
	}
	return NewPipeline(o, tr, syn), st
}

func TestPipeline_EventOrderWithTTS(t *testing.T) {
	tr := &mockTranscriber{text: "I drink 8 glasses of water"}
	syn := &mockSynthesizer{}
	p, st := newTestPipeline(t, tr, syn)
	rec := &eventRecorder{}

	recordedAt := time.UnixMilli(1718000000123)
	err := p.Run(context.Background(), AudioTurn{
		Audio:      strings.NewReader("webm-bytes"),
		SessionID:  "s1",
		TTSVoice:   "shimmer",
		UseTTS:     true,
		RecordedAt: recordedAt,
	}, rec.emit)
	require.NoError(t, err)

	require.Len(t, rec.events, 5)
	require.NotNil(t, rec.events[0].Transcription)
	assert.Equal(t, "I drink 8 glasses of water", *rec.events[0].Transcription)
	require.NotNil(t, rec.events[1].Result)
	assert.NotEmpty(t, *rec.events[1].Result)
	require.NotNil(t, rec.events[2].Audio)
	assert.True(t, strings.HasPrefix(*rec.events[2].Audio, "data:audio/mpeg;base64,"))
	require.NotNil(t, rec.events[3].AllQuestionsAnswered)
	assert.False(t, *rec.events[3].AllQuestionsAnswered)
	assert.Equal(t, models.EventStatusDone, rec.events[4].Status)

	assert.Equal(t, "recording-1718000000123.webm", tr.filename)
	assert.Equal(t, "webm-bytes", tr.body)
	assert.Equal(t, "shimmer", syn.voice)
	assert.Equal(t, *rec.events[1].Result, syn.text)

	doc, err := st.GetRecord(context.Background(), store.CollectionResponses, "s1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, DefaultProlificPID, doc.ProlificPID)
	assert.Equal(t, "shimmer", doc.TTSVoice)
}

func TestPipeline_WithoutTTS(t *testing.T) {
	syn := &mockSynthesizer{}
	p, _ := newTestPipeline(t, &mockTranscriber{text: "hello"}, syn)
	rec := &eventRecorder{}

	err := p.Run(context.Background(), AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1", ProlificPID: "p9"}, rec.emit)
	require.NoError(t, err)

	require.Len(t, rec.events, 4)
	for _, e := range rec.events {
		assert.Nil(t, e.Audio)
	}
	assert.Empty(t, syn.voice, "synthesizer must not be called")
	assert.True(t, rec.events[3].IsTerminal())
}

func TestPipeline_Failures(t *testing.T) {
	cases := []struct {
		name        string
		turn        AudioTurn
		transcriber *mockTranscriber
		synthesizer *mockSynthesizer
		wantEvents  int
		wantMessage string
		wantInput   bool
	}{
		{
			name:        "no audio",
			turn:        AudioTurn{SessionID: "s1"},
			transcriber: &mockTranscriber{text: "hi"},
			wantEvents:  1,
			wantMessage: "no audio detected",
			wantInput:   true,
		},
		{
			name:        "missing session",
			turn:        AudioTurn{Audio: strings.NewReader("x")},
			transcriber: &mockTranscriber{text: "hi"},
			wantEvents:  1,
			wantMessage: "missing session id",
			wantInput:   true,
		},
		{
			name:        "unsupported voice",
			turn:        AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1", TTSVoice: "robot"},
			transcriber: &mockTranscriber{text: "hi"},
			wantEvents:  1,
			wantMessage: `unsupported voice "robot"`,
			wantInput:   true,
		},
		{
			name:        "transcription failure",
			turn:        AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1"},
			transcriber: &mockTranscriber{err: errors.New("whisper down")},
			wantEvents:  1,
			wantMessage: "Something went wrong. Please try again.",
		},
		{
			name:        "empty transcript",
			turn:        AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1"},
			transcriber: &mockTranscriber{text: "  "},
			wantEvents:  1,
			wantMessage: "empty transcript",
			wantInput:   true,
		},
		{
			name:        "speech failure",
			turn:        AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1", UseTTS: true},
			transcriber: &mockTranscriber{text: "hi"},
			synthesizer: &mockSynthesizer{err: errors.New("tts down")},
			wantEvents:  3,
			wantMessage: "Something went wrong. Please try again.",
		},
		{
			name:        "speech not configured",
			turn:        AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1", UseTTS: true},
			transcriber: &mockTranscriber{text: "hi"},
			wantEvents:  3,
			wantMessage: "Something went wrong. Please try again.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPipeline(t, tc.transcriber, tc.synthesizer)
			rec := &eventRecorder{}

			err := p.Run(context.Background(), tc.turn, rec.emit)
			require.Error(t, err)
			assert.Equal(t, tc.wantInput, errors.Is(err, ErrInvalidInput))

			require.Len(t, rec.events, tc.wantEvents)
			last := rec.events[len(rec.events)-1]
			assert.Equal(t, tc.wantMessage, last.Error)
			for _, e := range rec.events[:len(rec.events)-1] {
				assert.Empty(t, e.Error)
				assert.NotEqual(t, models.EventStatusDone, e.Status)
			}
		})
	}
}

func TestPipeline_EmitFailureStops(t *testing.T) {
	p, _ := newTestPipeline(t, &mockTranscriber{text: "hi"}, nil)
	calls := 0
	err := p.Run(context.Background(), AudioTurn{Audio: strings.NewReader("x"), SessionID: "s1"}, func(models.TurnEvent) error {
		calls++
		return errors.New("client went away")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTranscriptionFilename(t *testing.T) {
	assert.Equal(t, "recording-0.webm", TranscriptionFilename(time.UnixMilli(0)))
}
