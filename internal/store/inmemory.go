package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process gateway for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]StoredSession
	messages map[string][]StoredMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]StoredSession),
		messages: make(map[string][]StoredMessage),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, userID, title string) (StoredSession, error) {
	sess := StoredSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return StoredSession{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) GetUserSessions(_ context.Context, userID string) ([]StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, sessionID string) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[sessionID]
	out := make([]StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg StoredMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return ErrNotFound
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	sess.LastMessagePreview = previewOf(msg.Content)
	s.sessions[msg.SessionID] = sess
	return nil
}

func (s *InMemoryStore) UpdateTitle(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Title = title
	s.sessions[sessionID] = sess
	return nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

const previewLimit = 120

func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}
