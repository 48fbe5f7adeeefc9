package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
)

// Voices supported by the speech model.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// ErrUnsupportedVoice is returned for a voice outside Voices.
var ErrUnsupportedVoice = errors.New("unsupported voice")

// ErrEmptyAudio is returned when there is nothing to transcribe or synthesize.
var ErrEmptyAudio = errors.New("empty audio input")

// IsSupportedVoice reports whether voice is one of Voices.
func IsSupportedVoice(voice string) bool {
	for _, v := range Voices {
		if v == voice {
			return true
		}
	}
	return false
}

// Synthesizer turns reply text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (string, error)
}

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

type speechService interface {
	Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error)
}

type transcriptionService interface {
	Create(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error)
}

type openAISpeechService struct {
	svc *openai.AudioSpeechService
}

func (s openAISpeechService) Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type openAITranscriptionService struct {
	svc *openai.AudioTranscriptionService
}

func (s openAITranscriptionService) Create(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Synthesize renders text with voice and returns it as an mp3 data URI.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if !IsSupportedVoice(voice) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVoice, voice)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyAudio
	}
	slog.Debug("GenAI.Synthesize: requesting speech", "model", c.speechModel, "voice", voice, "textLength", len(text))

	audio, err := c.speech.Create(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.speechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("GenAI.Synthesize: speech request failed", "error", err, "voice", voice)
		return "", fmt.Errorf("speech synthesis failed: %w", err)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	return "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio), nil
}

// Transcribe sends the recording to the transcription model and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if audio == nil {
		return "", ErrEmptyAudio
	}
	slog.Debug("GenAI.Transcribe: requesting transcription", "model", c.transcriptionModel, "filename", filename)

	text, err := c.transcription.Create(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentTypeFor(filename)),
		Model: openai.AudioModel(c.transcriptionModel),
	})
	if err != nil {
		slog.Error("GenAI.Transcribe: transcription failed", "error", err, "filename", filename)
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text = strings.TrimSpace(text)
	slog.Debug("GenAI.Transcribe: transcription received", "length", len(text))
	return text, nil
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".m4a"), strings.HasSuffix(filename, ".mp4"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
