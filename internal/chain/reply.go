package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

// ReplySystemPrompt establishes the interviewer persona.
const ReplySystemPrompt = `You are a polite interviewer conducting an interview to gather information for calculating a health insurance premium.
You will receive the conversation history and the next question to ask the user in a conversational manner.
If there are no more questions to ask, you will receive a message stating "` + questionnaire.CompletionSentinel + `".
If all questions have been answered, thank the user for their time and end the conversation.
Ask only one outstanding question at a time. If the user drifts off topic, politely steer the conversation back to the interview.`

const replyQuestionFrame = `Ask the user the following question:
%s

**Instructions:**
- Do not repeat already answered questions.
- If there are any open questions, ask them in a conversational manner.
- Talk politely, and ask the questions with respect to the temporal context.
- Do not engage in conversation unrelated to the interview.
- Do not summarize the results.`

const replyCompletionFrame = `You received "` + questionnaire.CompletionSentinel + `" instead of a next question.

**Instructions:**
- Thank the user for their time and end the conversation.
- Do not ask any further questions.
- Do not engage in any other conversation.
- Do not summarize the results.`

// Reply is the interviewer's utterance together with the messages the turn
// adds to the session history. Writing those messages is left to the caller.
type Reply struct {
	Text     string
	Messages []store.Message
}

// ReplyChain generates the interviewer's next utterance.
type ReplyChain struct {
	client   genai.ClientInterface
	settings Settings
	now      func() time.Time
}

// NewReplyChain creates a reply chain. An empty model or zero max tokens fall
// back to the client defaults.
func NewReplyChain(client genai.ClientInterface, settings Settings) *ReplyChain {
	return &ReplyChain{
		client:   client,
		settings: settings,
		now:      time.Now,
	}
}

// Generate returns the reply to utterance given the prior history and the
// next question (or the completion sentinel). The returned messages hold the
// user utterance and, when the reply is not empty, the assistant reply.
func (c *ReplyChain) Generate(ctx context.Context, sessionID string, history []store.Message, utterance, nextQuestion string) (Reply, error) {
	messages := buildReplyMessages(history, utterance, nextQuestion)
	slog.Debug("ReplyChain.Generate: calling model", "sessionID", sessionID, "messageCount", len(messages), "completing", nextQuestion == questionnaire.CompletionSentinel)

	text, err := c.client.Complete(ctx, c.settings.request(messages))
	if err != nil {
		slog.Error("ReplyChain.Generate: model call failed", "sessionID", sessionID, "error", err)
		return Reply{}, fmt.Errorf("reply generation failed: %w", err)
	}
	text = strings.TrimSpace(text)

	now := c.now()
	turn := []store.Message{
		{ID: uuid.NewString(), Role: store.RoleUser, Content: utterance, CreatedAt: now},
	}
	if text != "" {
		turn = append(turn, store.Message{ID: uuid.NewString(), Role: store.RoleAssistant, Content: text, CreatedAt: now})
	}
	return Reply{Text: text, Messages: turn}, nil
}

// buildReplyMessages lays out persona, history, utterance and the instruction frame.
func buildReplyMessages(history []store.Message, utterance, nextQuestion string) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(ReplySystemPrompt)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openai.UserMessage(utterance))

	if nextQuestion == questionnaire.CompletionSentinel {
		messages = append(messages, openai.SystemMessage(replyCompletionFrame))
	} else {
		messages = append(messages, openai.SystemMessage(fmt.Sprintf(replyQuestionFrame, nextQuestion)))
	}
	return messages
}
