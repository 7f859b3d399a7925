package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nvasile/amica/internal/chat"
	"github.com/nvasile/amica/internal/completion"
	"github.com/nvasile/amica/internal/config"
	"github.com/nvasile/amica/internal/observability"
	"github.com/nvasile/amica/internal/store"
	"github.com/nvasile/amica/internal/transcript"
	"github.com/nvasile/amica/internal/voice"
)

type Server struct {
	cfg        config.Config
	store      store.Store
	cache      *store.LocalCache
	chat       *chat.Service
	controller *voice.Controller
	transcript *transcript.Store
	metrics    *observability.Metrics
	latency    *observability.LatencyWindow
}

func New(cfg config.Config, st store.Store, cache *store.LocalCache, chatSvc *chat.Service,
	controller *voice.Controller, trans *transcript.Store,
	metrics *observability.Metrics, latency *observability.LatencyWindow) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		cache:      cache,
		chat:       chatSvc,
		controller: controller,
		transcript: trans,
		metrics:    metrics,
		latency:    latency,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/v1/sessions", s.handleListSessions)
		r.Post("/v1/sessions", s.handleCreateSession)
		r.Put("/v1/sessions/{id}", s.handleUpdateSession)
		r.Delete("/v1/sessions/{id}", s.handleDeleteSession)
		r.Get("/v1/sessions/{id}/messages", s.handleGetMessages)
		r.Post("/v1/sessions/{id}/messages", s.handleAppendMessage)
		r.Post("/v1/sessions/{id}/chat", s.handleChat)
		r.Get("/v1/sessions/{id}/timeline", s.handleTimeline)

		r.Post("/v1/voice/connect", s.handleVoiceConnect)
		r.Post("/v1/voice/disconnect", s.handleVoiceDisconnect)
		r.Post("/v1/voice/pause", s.handleVoicePause)
		r.Post("/v1/voice/resume", s.handleVoiceResume)
		r.Post("/v1/voice/text", s.handleVoiceText)
		r.Get("/v1/voice/status", s.handleVoiceStatus)
	})

	return r
}

// allowAnyOrigin opens the API to browser clients on any origin, including
// the preflight requests they send before authenticated calls.
func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Amica-User")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const userIDKey ctxKey = iota

// auth enforces the bearer token (when configured) and the identity
// header. Every /v1 data route runs behind it.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIAuthToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.cfg.APIAuthToken)) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid_token", "missing or invalid bearer token")
				return
			}
		}
		userID := strings.TrimSpace(r.Header.Get("X-Amica-User"))
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing_identity", "X-Amica-User header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func requestUser(r *http.Request) string {
	v, _ := r.Context().Value(userIDKey).(string)
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"voice_status": string(s.controller.Status()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.latency == nil {
		respondJSON(w, http.StatusOK, map[string]any{"stages": []any{}})
		return
	}
	respondJSON(w, http.StatusOK, s.latency.Snapshot())
}

type sessionResponse struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func toSessionResponse(sess store.StoredSession) sessionResponse {
	return sessionResponse{
		ID:                 sess.ID,
		UserID:             sess.UserID,
		Title:              sess.Title,
		LastMessagePreview: sess.LastMessagePreview,
		CreatedAt:          sess.CreatedAt,
	}
}

type messageResponse struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Prosody   map[string]float64 `json:"prosody,omitempty"`
	FromText  bool               `json:"from_text"`
	CreatedAt time.Time          `json:"created_at"`
}

func toMessageResponse(msg store.StoredMessage) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		Prosody:   msg.Prosody,
		FromText:  msg.FromText,
		CreatedAt: msg.CreatedAt,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.GetUserSessions(r.Context(), requestUser(r))
	if err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.store.CreateSession(r.Context(), requestUser(r), strings.TrimSpace(req.Title))
	if err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	if s.cache != nil {
		_ = s.cache.CacheSession(r.Context(), sess)
	}
	respondJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// ownedSession loads a session and enforces that it belongs to the caller.
// Foreign sessions 404 rather than 403 to avoid leaking their existence.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (store.StoredSession, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return store.StoredSession{}, false
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		} else {
			respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		}
		return store.StoredSession{}, false
	}
	if sess.UserID != requestUser(r) {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return store.StoredSession{}, false
	}
	return sess, true
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	if err := s.store.UpdateTitle(r.Context(), sess.ID, strings.TrimSpace(req.Title)); err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	sess.Title = strings.TrimSpace(req.Title)
	respondJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.store.GetMessages(r.Context(), sess.ID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessageResponse(msg))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Role    string             `json:"role"`
		Content string             `json:"content"`
		Prosody map[string]float64 `json:"prosody"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		respondError(w, http.StatusBadRequest, "invalid_role", "role must be user, assistant, or system")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_content", "content is required")
		return
	}

	msg := store.StoredMessage{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      req.Role,
		Content:   req.Content,
		Prosody:   req.Prosody,
		FromText:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(r.Context(), msg); err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleChat runs one text turn and streams the assistant reply as
// OpenAI-shaped server-sent events terminated by a DONE sentinel.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	streamID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	emit := func(content, finish string) {
		chunk := completion.Chunk{
			ID:      streamID,
			Created: created,
			Choices: []completion.Choice{{Delta: completion.Delta{Content: content}, FinishReason: finish}},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	_, err := s.chat.SendMessage(r.Context(), sess.ID, req.Text, func(delta string) {
		emit(delta, "")
	})
	if err != nil {
		fmt.Fprintf(w, "data: {\"error\":%q}\n\n", err.Error())
	} else {
		emit("", "stop")
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
