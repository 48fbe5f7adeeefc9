package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/interview"
	"github.com/BTreeMap/VoiceIntake/internal/models"
	"github.com/BTreeMap/VoiceIntake/internal/questionnaire"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/BTreeMap/VoiceIntake/internal/util"
	"github.com/go-chi/chi/v5/middleware"
)

// turnHandler accepts a recorded utterance and streams the turn's events.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		slog.Warn("Server.turnHandler: invalid multipart form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	turn := interview.AudioTurn{
		SessionID:   r.FormValue("sessionId"),
		ProlificPID: r.FormValue("prolificPid"),
		TTSVoice:    r.FormValue("ttsVoice"),
		RecordedAt:  parseTimestamp(r.FormValue("timestamp")),
	}
	turn.UseTTS, _ = util.ParseBool(r.FormValue("useTTS"))

	file, _, err := r.FormFile("audio")
	if err == nil {
		defer file.Close()
		turn.Audio = file
	} else {
		slog.Debug("Server.turnHandler: no audio part", "error", err)
	}

	reqID := middleware.GetReqID(r.Context())
	slog.Info("Server.turnHandler: turn received", "requestID", reqID, "sessionID", turn.SessionID, "useTTS", turn.UseTTS)

	stream := newEventStream(w)
	if err := s.pipeline.Run(r.Context(), turn, stream.Emit); err != nil {
		slog.Warn("Server.turnHandler: turn failed", "requestID", reqID, "sessionID", turn.SessionID, "error", err)
		return
	}
	slog.Debug("Server.turnHandler: turn completed", "requestID", reqID, "sessionID", turn.SessionID)
}

// parseTimestamp reads a Unix millisecond hint, returning the zero time when absent.
func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// responsesHandler returns the working record of a session.
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sessionId"))
		return
	}

	record, err := s.orchestrator.Responses(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.responsesHandler: failed to load responses", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load responses"))
		return
	}
	if record == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Responses not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(record))
}

// finalResponsesHandler stores the record the participant confirmed.
func (s *Server) finalResponsesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FinalResponsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.finalResponsesHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.finalResponsesHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	record := make(questionnaire.Record, len(req.Responses))
	for k, v := range req.Responses {
		record[questionnaire.FieldKey(k)] = v
	}
	pid := strings.TrimSpace(req.ProlificPID)
	if pid == "" {
		pid = interview.DefaultProlificPID
	}
	meta := store.SessionMetadata{ProlificPID: pid, TTSVoice: req.TTSVoice}

	if err := s.orchestrator.SaveFinalResponses(r.Context(), req.SessionID, record, meta); err != nil {
		if errors.Is(err, interview.ErrInvalidInput) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.finalResponsesHandler: failed to save", "sessionID", req.SessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save final responses"))
		return
	}

	result := models.FinalResponsesResult{QuestionnaireCode: s.orchestrator.Config().QuestionnaireCode}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Final responses saved successfully", result))
}

// healthHandler reports liveness and the active store backend.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(models.HealthStatus{Store: s.storeKind}))
}
