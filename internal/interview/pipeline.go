package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/models"
)

// AudioTurn is a recorded utterance submitted by the browser.
type AudioTurn struct {
	Audio       io.Reader
	SessionID   string
	ProlificPID string
	TTSVoice    string
	UseTTS      bool
	// RecordedAt names the upload sent to the transcription service.
	RecordedAt time.Time
}

// EmitFunc delivers one event to the client. An error stops the pipeline.
type EmitFunc func(models.TurnEvent) error

// Pipeline runs transcription, the turn itself and optional speech synthesis,
// emitting events in order.
type Pipeline struct {
	orchestrator *Orchestrator
	transcriber  genai.Transcriber
	synthesizer  genai.Synthesizer
}

// NewPipeline creates a pipeline. synthesizer may be nil when speech output is
// never requested.
func NewPipeline(orchestrator *Orchestrator, transcriber genai.Transcriber, synthesizer genai.Synthesizer) *Pipeline {
	return &Pipeline{
		orchestrator: orchestrator,
		transcriber:  transcriber,
		synthesizer:  synthesizer,
	}
}

// TranscriptionFilename is the upload name for a recording made at t.
func TranscriptionFilename(t time.Time) string {
	return fmt.Sprintf("recording-%d.webm", t.UnixMilli())
}

// Run processes turn and emits transcription, result, optional audio, the
// completion flag and a final done event. On failure a single error event is
// emitted instead of the remaining ones and the error is returned.
func (p *Pipeline) Run(ctx context.Context, turn AudioTurn, emit EmitFunc) error {
	if err := p.run(ctx, turn, emit); err != nil {
		if !errors.Is(err, errEmit) {
			if emitErr := emit(models.ErrorEvent(clientMessage(err))); emitErr != nil {
				slog.Warn("Pipeline.Run: failed to emit error event", "error", emitErr)
			}
		}
		return err
	}
	return nil
}

var errEmit = errors.New("failed to emit event")

func (p *Pipeline) run(ctx context.Context, turn AudioTurn, emit EmitFunc) error {
	send := func(e models.TurnEvent) error {
		if err := emit(e); err != nil {
			return fmt.Errorf("%w: %w", errEmit, err)
		}
		return nil
	}

	turn, err := p.normalize(turn)
	if err != nil {
		return err
	}

	recordedAt := turn.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	transcript, err := p.transcriber.Transcribe(ctx, turn.Audio, TranscriptionFilename(recordedAt))
	if err != nil {
		slog.Error("Pipeline.Run: transcription failed", "sessionID", turn.SessionID, "error", err)
		return err
	}
	if strings.TrimSpace(transcript) == "" {
		slog.Warn("Pipeline.Run: empty transcript", "sessionID", turn.SessionID)
		return fmt.Errorf("%w: empty transcript", ErrInvalidInput)
	}
	if err := send(models.TranscriptionEvent(transcript)); err != nil {
		return err
	}

	result, err := p.orchestrator.RunTurn(ctx, TurnRequest{
		SessionID:   turn.SessionID,
		ProlificPID: turn.ProlificPID,
		TTSVoice:    turn.TTSVoice,
		Transcript:  transcript,
	})
	if err != nil {
		return err
	}
	if err := send(models.ResultEvent(result.ResponseText)); err != nil {
		return err
	}

	if turn.UseTTS {
		if p.synthesizer == nil {
			return fmt.Errorf("speech synthesis is not configured")
		}
		audio, err := p.synthesizer.Synthesize(ctx, result.ResponseText, turn.TTSVoice)
		if err != nil {
			slog.Error("Pipeline.Run: speech synthesis failed", "sessionID", turn.SessionID, "error", err)
			return err
		}
		if err := send(models.AudioEvent(audio)); err != nil {
			return err
		}
	}

	if err := send(models.CompletionEvent(result.AllQuestionsAnswered)); err != nil {
		return err
	}
	return send(models.DoneEvent())
}

// normalize applies defaults and rejects unusable input.
func (p *Pipeline) normalize(turn AudioTurn) (AudioTurn, error) {
	if turn.Audio == nil {
		return turn, fmt.Errorf("%w: no audio detected", ErrInvalidInput)
	}
	turn.SessionID = strings.TrimSpace(turn.SessionID)
	if turn.SessionID == "" {
		return turn, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if strings.TrimSpace(turn.ProlificPID) == "" {
		turn.ProlificPID = DefaultProlificPID
	}
	if turn.TTSVoice == "" {
		turn.TTSVoice = p.orchestrator.cfg.DefaultVoice
	}
	if !genai.IsSupportedVoice(turn.TTSVoice) {
		return turn, fmt.Errorf("%w: unsupported voice %q", ErrInvalidInput, turn.TTSVoice)
	}
	return turn, nil
}

// clientMessage is the text shown to the user for a failed turn.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
