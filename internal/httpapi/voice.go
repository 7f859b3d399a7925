package httpapi

import (
	"errors"
	"net/http"

	"github.com/nvasile/amica/internal/voice"
)

func (s *Server) handleVoiceConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// An explicit session binds the call's transcript to stored history; a
	// connect without one keeps whatever binding was active.
	if req.SessionID != "" {
		sess, err := s.store.GetSession(r.Context(), req.SessionID)
		if err != nil || sess.UserID != requestUser(r) {
			respondError(w, http.StatusNotFound, "session_not_found", "no such session")
			return
		}
		s.controller.BindSession(sess.ID)
	}

	if err := s.controller.Connect(r.Context()); err != nil {
		var verr *voice.Error
		if errors.As(err, &verr) {
			status := http.StatusBadGateway
			if verr.Cause == nil {
				// State-machine rejections, not transport failures.
				status = http.StatusConflict
			}
			respondError(w, status, string(verr.Kind), verr.Message)
			return
		}
		respondError(w, http.StatusBadGateway, "connect_failed", err.Error())
		return
	}
	s.respondVoiceStatus(w)
}

func (s *Server) handleVoiceDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.controller.Disconnect()
	s.respondVoiceStatus(w)
}

func (s *Server) handleVoicePause(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.PauseAssistant(r.Context()); err != nil {
		respondError(w, http.StatusConflict, "not_connected", err.Error())
		return
	}
	s.respondVoiceStatus(w)
}

func (s *Server) handleVoiceResume(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ResumeAssistant(r.Context()); err != nil {
		respondError(w, http.StatusConflict, "not_connected", err.Error())
		return
	}
	s.respondVoiceStatus(w)
}

func (s *Server) handleVoiceText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if err := s.controller.SendText(r.Context(), req.Text); err != nil {
		respondError(w, http.StatusConflict, "not_connected", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVoiceStatus(w http.ResponseWriter, _ *http.Request) {
	s.respondVoiceStatus(w)
}

type voiceStatusResponse struct {
	Status         string          `json:"status"`
	Paused         bool            `json:"paused"`
	CallDurationMS int64           `json:"call_duration_ms"`
	BoundSessionID string          `json:"bound_session_id,omitempty"`
	ChatID         string          `json:"chat_id,omitempty"`
	ChatGroupID    string          `json:"chat_group_id,omitempty"`
	LastError      *voiceErrorBody `json:"last_error,omitempty"`
}

type voiceErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) respondVoiceStatus(w http.ResponseWriter) {
	resp := voiceStatusResponse{
		Status:         string(s.controller.Status()),
		Paused:         s.controller.Paused(),
		CallDurationMS: s.controller.CallDuration().Milliseconds(),
		BoundSessionID: s.controller.BoundSession(),
		ChatID:         s.controller.Chat().ChatID,
		ChatGroupID:    s.controller.Chat().ChatGroupID,
	}
	if last := s.controller.LastError(); last != nil {
		resp.LastError = &voiceErrorBody{Kind: string(last.Kind), Message: last.Message}
	}
	respondJSON(w, http.StatusOK, resp)
}
