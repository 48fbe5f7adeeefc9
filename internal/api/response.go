package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/VoiceIntake/internal/models"
)

// Pre-marshaled fallback response used when a payload cannot be encoded.
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes response as JSON with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// eventStream writes turn events as newline-delimited JSON, flushing after each one.
type eventStream struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	started bool
	closed  bool
}

// errStreamClosed is returned when an event follows a terminal one.
var errStreamClosed = errors.New("event stream already terminated")

// ndjsonContentType is the media type of the turn event stream.
const ndjsonContentType = "application/x-ndjson"

func newEventStream(w http.ResponseWriter) *eventStream {
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, enc: json.NewEncoder(w), flusher: flusher}
}

// Emit writes one event. Headers are sent with the first event and nothing is
// written after a done or error event.
func (s *eventStream) Emit(e models.TurnEvent) error {
	if s.closed {
		return errStreamClosed
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", ndjsonContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(e); err != nil {
		return err
	}
	s.closed = e.IsTerminal()
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
