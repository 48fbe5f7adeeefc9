package models

import (
	"encoding/json"
	"testing"
)

func TestTurnEventJSON(t *testing.T) {
	cases := []struct {
		event TurnEvent
		want  string
	}{
		{TranscriptionEvent("I drink water"), `{"transcription":"I drink water"}`},
		{ResultEvent("Thanks!"), `{"result":"Thanks!"}`},
		{AudioEvent("data:audio/mpeg;base64,AAA="), `{"audio":"data:audio/mpeg;base64,AAA="}`},
		{CompletionEvent(false), `{"allQuestionsAnswered":false}`},
		{CompletionEvent(true), `{"allQuestionsAnswered":true}`},
		{DoneEvent(), `{"status":"done"}`},
		{ErrorEvent("No audio detected"), `{"error":"No audio detected"}`},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if string(b) != tc.want {
			t.Errorf("expected %s, got %s", tc.want, b)
		}
	}
}

func TestTurnEventIsTerminal(t *testing.T) {
	if !DoneEvent().IsTerminal() || !ErrorEvent("x").IsTerminal() {
		t.Error("done and error events must be terminal")
	}
	if ResultEvent("x").IsTerminal() || CompletionEvent(true).IsTerminal() {
		t.Error("intermediate events must not be terminal")
	}
}

func TestFinalResponsesRequestValidate(t *testing.T) {
	req := FinalResponsesRequest{SessionID: " ", Responses: map[string]string{}}
	if err := req.Validate(); err != ErrInvalidSessionID {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}
	req = FinalResponsesRequest{SessionID: "s1"}
	if err := req.Validate(); err != ErrInvalidResponses {
		t.Errorf("expected ErrInvalidResponses, got %v", err)
	}
	req.Responses = map[string]string{"sleepHoursPerNight": "7"}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Success(42); r.Status != "ok" || r.Result != 42 {
		t.Errorf("unexpected success response %+v", r)
	}
	if r := Error("boom"); r.Status != "error" || r.Message != "boom" || r.Result != nil {
		t.Errorf("unexpected error response %+v", r)
	}
	if r := SuccessWithMessage("saved", nil); r.Message != "saved" {
		t.Errorf("unexpected message %q", r.Message)
	}
}
