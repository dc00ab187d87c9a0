package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/orchestrator"
	"github.com/MrWong99/voxgate/pkg/types"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type configRequest struct {
	ClientID  string      `json:"clientId"`
	VoiceType types.Voice `json:"voiceType"`
}

type configResponse struct {
	Status   string `json:"status"`
	ClientID string `json:"clientId"`
}

type chatRequest struct {
	ClientID  string      `json:"clientId"`
	VoiceType types.Voice `json:"voiceType"`
	Audio     string      `json:"audio"`
	AudioType string      `json:"audioType"`
}

type chatResponse struct {
	Status        string `json:"status"`
	AITranscript  string `json:"aiTranscript"`
	AudioResponse string `json:"audioResponse"`
}

type pauseRequest struct {
	ClientID string `json:"clientId"`
	IsPaused bool   `json:"isPaused"`
}

type pauseResponse struct {
	Status   string `json:"status"`
	IsPaused bool   `json:"isPaused"`
}

type endRequest struct {
	ClientID string `json:"clientId"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleConfig handles POST /api/config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeBody(w, r, maxControlBody, &req) {
		return
	}
	sess, err := s.orch.Configure(req.ClientID, req.VoiceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{Status: statusSuccess, ClientID: sess.ClientID})
}

// handleChat handles POST /api/chat. Failures are reported in the payload
// with HTTP 200.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, messageResponse{Status: statusError, Message: "invalid request body"})
		return
	}

	resp, err := s.orch.Chat(r.Context(), orchestrator.ChatRequest{
		ClientID: req.ClientID,
		Voice:    req.VoiceType,
		Audio:    req.Audio,
		Format:   req.AudioType,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("chat request failed", "client_id", req.ClientID, "err", err)
		writeJSON(w, http.StatusOK, messageResponse{Status: statusError, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Status:        statusSuccess,
		AITranscript:  resp.Transcript,
		AudioResponse: resp.Audio,
	})
}

// handlePause handles POST /api/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, maxControlBody, &req) {
		return
	}
	if err := s.orch.Pause(req.ClientID, req.IsPaused); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("session not found: %s", req.ClientID))
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, pauseResponse{Status: statusSuccess, IsPaused: req.IsPaused})
}

// handleEnd handles POST /api/end. Ending an unknown session succeeds.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !decodeBody(w, r, maxControlBody, &req) {
		return
	}
	s.orch.End(r.Context(), req.ClientID)
	writeJSON(w, http.StatusOK, messageResponse{Status: statusSuccess, Message: "Session ended"})
}

// decodeBody reads a JSON body into v. On failure it writes a 400 response
// and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, messageResponse{Status: statusError, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
