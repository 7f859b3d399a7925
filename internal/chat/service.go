package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvasile/amica/internal/completion"
	"github.com/nvasile/amica/internal/emotion"
	"github.com/nvasile/amica/internal/observability"
	"github.com/nvasile/amica/internal/store"
)

const titleLimit = 48

type Config struct {
	SystemPrompt string
}

// Service runs the typed-message path: persist the user turn, stream a
// completion, persist the assistant turn. Emotion scoring decorates both
// turns but never blocks them.
type Service struct {
	cfg        Config
	store      store.Store
	completion *completion.Client
	emotion    *emotion.Client
	metrics    *observability.Metrics
}

func NewService(cfg Config, st store.Store, comp *completion.Client, emo *emotion.Client, metrics *observability.Metrics) *Service {
	return &Service{cfg: cfg, store: st, completion: comp, emotion: emo, metrics: metrics}
}

// SendMessage appends the user turn, streams the assistant reply through
// onDelta, persists it, and returns the stored assistant message.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string, onDelta func(content string)) (store.StoredMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.StoredMessage{}, fmt.Errorf("message text is empty")
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.StoredMessage{}, err
	}

	userMsg := store.StoredMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Content:   text,
		Prosody:   s.analyze(ctx, text),
		FromText:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return store.StoredMessage{}, fmt.Errorf("append user message: %w", err)
	}

	history, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return store.StoredMessage{}, fmt.Errorf("load history: %w", err)
	}

	prompt := make([]completion.Message, 0, len(history)+1)
	if s.cfg.SystemPrompt != "" {
		prompt = append(prompt, completion.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	for _, m := range history {
		prompt = append(prompt, completion.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := s.completion.Stream(ctx, prompt, onDelta)
	if err != nil {
		return store.StoredMessage{}, fmt.Errorf("completion: %w", err)
	}

	assistantMsg := store.StoredMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   reply,
		Prosody:   s.analyze(ctx, reply),
		FromText:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, assistantMsg); err != nil {
		return store.StoredMessage{}, fmt.Errorf("append assistant message: %w", err)
	}

	if sess.Title == "" {
		if err := s.store.UpdateTitle(ctx, sessionID, deriveTitle(text)); err != nil {
			// Title maintenance is cosmetic; the turn already succeeded.
			s.countError("title_update")
		}
	}
	return assistantMsg, nil
}

// PersistVoiceTurn stores one committed voice-session message. Wired as
// the transcript store's commit hook.
func (s *Service) PersistVoiceTurn(ctx context.Context, sessionID string, msg store.StoredMessage) error {
	msg.SessionID = sessionID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		s.countError("voice_persist")
		return err
	}
	if s.metrics != nil {
		s.metrics.CommittedMessages.WithLabelValues(msg.Role).Inc()
	}
	return nil
}

func (s *Service) analyze(ctx context.Context, text string) map[string]float64 {
	if s.emotion == nil || !s.emotion.Enabled() {
		return nil
	}
	scores, err := s.emotion.Analyze(ctx, text)
	if err != nil {
		s.countError("emotion_analyze")
		return nil
	}
	return scores
}

func (s *Service) countError(code string) {
	if s.metrics != nil {
		s.metrics.ComponentErrors.WithLabelValues("chat", code).Inc()
	}
}

func deriveTitle(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= titleLimit {
		return string(runes)
	}
	return string(runes[:titleLimit]) + "…"
}
