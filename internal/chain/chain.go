// Package chain holds the two model-backed steps of an interview turn: the
// conversational reply and the record extraction. Both read the same session
// history; neither writes to it.
package chain

import (
	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/openai/openai-go"
)

// Settings are the model parameters of one chain. Temperature is always sent
// as given, including 0.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// request builds a completion request carrying these settings.
func (s Settings) request(messages []openai.ChatCompletionMessageParamUnion) genai.CompletionRequest {
	temperature := s.Temperature
	return genai.CompletionRequest{
		Messages:    messages,
		Model:       s.Model,
		Temperature: &temperature,
		MaxTokens:   s.MaxTokens,
	}
}

// historyMessages converts stored history into chat messages.
func historyMessages(history []store.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
