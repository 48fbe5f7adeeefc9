// Package models defines the data structures shared between the HTTP layer and
// the interview pipeline.
//
// It includes the JSON response envelope, the streamed turn events and the
// request bodies accepted by the API.
package models

import (
	"errors"
	"strings"
)

// TurnEvent is one increment of a streamed turn. Exactly one field is set.
type TurnEvent struct {
	Transcription        *string `json:"transcription,omitempty"`
	Result               *string `json:"result,omitempty"`
	Audio                *string `json:"audio,omitempty"`
	AllQuestionsAnswered *bool   `json:"allQuestionsAnswered,omitempty"`
	Status               string  `json:"status,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// EventStatusDone terminates a successful turn stream.
const EventStatusDone = "done"

// TranscriptionEvent carries the transcribed utterance.
func TranscriptionEvent(text string) TurnEvent {
	return TurnEvent{Transcription: &text}
}

// ResultEvent carries the interviewer's reply text.
func ResultEvent(text string) TurnEvent {
	return TurnEvent{Result: &text}
}

// AudioEvent carries the synthesized reply as a data URI.
func AudioEvent(dataURI string) TurnEvent {
	return TurnEvent{Audio: &dataURI}
}

// CompletionEvent reports whether every question had been answered.
func CompletionEvent(done bool) TurnEvent {
	return TurnEvent{AllQuestionsAnswered: &done}
}

// DoneEvent terminates a successful turn.
func DoneEvent() TurnEvent {
	return TurnEvent{Status: EventStatusDone}
}

// ErrorEvent terminates a failed turn.
func ErrorEvent(message string) TurnEvent {
	return TurnEvent{Error: message}
}

// IsTerminal reports whether e ends the stream.
func (e TurnEvent) IsTerminal() bool {
	return e.Status == EventStatusDone || e.Error != ""
}

// FinalResponsesRequest is the body of POST /finalResponses.
type FinalResponsesRequest struct {
	SessionID   string            `json:"sessionId"`
	ProlificPID string            `json:"prolificPid"`
	TTSVoice    string            `json:"ttsVoice"`
	Responses   map[string]string `json:"responses"`
}

// Validation errors for FinalResponsesRequest.
var (
	ErrInvalidSessionID = errors.New("invalid sessionId")
	ErrInvalidResponses = errors.New("invalid responses")
)

// Validate checks the required fields are present.
func (r *FinalResponsesRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrInvalidSessionID
	}
	if r.Responses == nil {
		return ErrInvalidResponses
	}
	return nil
}

// FinalResponsesResult is returned after the final record was saved.
type FinalResponsesResult struct {
	QuestionnaireCode string `json:"questionnaireCode,omitempty"`
}

// HealthStatus is returned by the health endpoint.
type HealthStatus struct {
	Store string `json:"store"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
