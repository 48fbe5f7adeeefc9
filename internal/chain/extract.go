package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/openai/openai-go"
)

const extractionSystemPrompt = `You are an expert at analyzing conversation histories.
Your task is to analyze a conversation between a user and an AI assistant and fill in the JSON structure with all available information.
Your only output is a single JSON object with exactly the keys below. Every value is a string.

**Exemplary JSON Structure:**
%s

**JSON Schema:**
%s`

const extractionInstructionFrame = `**Most Recent Answer:**
%s

**Most Recent JSON File with responses:**
%s

**Instructions:**
1. **Field Verification:** Check if each field in the JSON structure has been filled with a relevant answer.
2. **Update Information:** For each missing, incomplete or unanswered field, scan through the conversation history and the most recent answer to find an answer if possible.
3. **Keep Correct Answers:** Copy fields that are already correctly answered unchanged. Never blank a correct field.
4. **Measurability:** Only extract measurable units as defined in the field descriptions and return them as strings.
5. **Correction:** If the conversation does not clearly answer a field, leave it unchanged or set it to "` + questionnaire.NotApplicable + `".
6. **Return JSON:** Return the complete JSON object only once every field has been considered.`

// ExtractionChain re-derives the whole record from the conversation on every turn.
type ExtractionChain struct {
	client   genai.ClientInterface
	catalog  *questionnaire.Catalog
	settings Settings
	system   string
}

// NewExtractionChain creates an extraction chain for catalog.
func NewExtractionChain(client genai.ClientInterface, catalog *questionnaire.Catalog, settings Settings) (*ExtractionChain, error) {
	example, err := json.MarshalIndent(catalog.ExampleRecord(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal example record: %w", err)
	}
	schema, err := catalog.SchemaJSON()
	if err != nil {
		return nil, err
	}
	return &ExtractionChain{
		client:   client,
		catalog:  catalog,
		settings: settings,
		system:   fmt.Sprintf(extractionSystemPrompt, example, schema),
	}, nil
}

// Extract asks the model for the updated record. The returned record has been
// validated against the catalog; any other model output is an error.
func (c *ExtractionChain) Extract(ctx context.Context, sessionID string, history []store.Message, utterance string, current questionnaire.Record) (questionnaire.Record, error) {
	messages, err := c.buildExtractionMessages(history, utterance, current)
	if err != nil {
		return nil, err
	}
	slog.Debug("ExtractionChain.Extract: calling model", "sessionID", sessionID, "messageCount", len(messages))

	req := c.settings.request(messages)
	req.JSONObject = true
	raw, err := c.client.Complete(ctx, req)
	if err != nil {
		slog.Error("ExtractionChain.Extract: model call failed", "sessionID", sessionID, "error", err)
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	record, err := c.catalog.ParseRecord([]byte(strings.TrimSpace(raw)))
	if err != nil {
		slog.Warn("ExtractionChain.Extract: rejected model output", "sessionID", sessionID, "error", err, "outputLength", len(raw))
		return nil, fmt.Errorf("invalid extraction output: %w", err)
	}
	return record, nil
}

func (c *ExtractionChain) buildExtractionMessages(history []store.Message, utterance string, current questionnaire.Record) ([]openai.ChatCompletionMessageParamUnion, error) {
	currentJSON, err := json.MarshalIndent(c.catalog.Normalize(current), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal current record: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(c.system)}
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, openai.UserMessage(utterance))
	messages = append(messages, openai.SystemMessage(fmt.Sprintf(extractionInstructionFrame, utterance, currentJSON)))
	return messages, nil
}
