// Package interview runs one interview turn: it loads the session's record, picks
// the next open question, runs the reply and extraction chains side by side and
// persists the extracted record.
package interview

import (
	"github.com/BTreeMap/VoiceIntake/internal/genai"
)

// DefaultProlificPID is used when a turn carries no participant identifier.
const DefaultProlificPID = "lab"

// NoInformationText replaces an empty reply from the model.
const NoInformationText = "No information available."

// Config is the explicit configuration of an Orchestrator and Pipeline.
type Config struct {
	ReplyModel         string
	ExtractionModel    string
	Temperature        float64
	MaxTokens          int
	TranscriptionModel string
	TTSModel           string
	// DefaultVoice is used for turns that do not name a supported voice.
	DefaultVoice string
	// QuestionnaireCode is the completion code handed out after final submission.
	QuestionnaireCode string
	// MergeExtraction overlays answered fields onto the stored record instead of
	// replacing it with the extracted one.
	MergeExtraction bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReplyModel:         genai.DefaultModel,
		ExtractionModel:    genai.DefaultModel,
		Temperature:        genai.DefaultTemperature,
		MaxTokens:          genai.DefaultMaxTokens,
		TranscriptionModel: genai.DefaultTranscriptionModel,
		TTSModel:           genai.DefaultSpeechModel,
		DefaultVoice:       genai.Voices[0],
	}
}
