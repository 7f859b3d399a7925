package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("session not found")

// NetworkError marks a transport-level gateway failure. It is always
// retryable; callers decide whether to retry via a RetryPolicy.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Retryable() bool { return true }

// StoredSession is the persisted session entity.
type StoredSession struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title,omitempty"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// StoredMessage is the persisted form of a committed transcript message.
// Immutable once written; only appended, never updated.
type StoredMessage struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	Prosody   map[string]float64 `json:"prosody,omitempty"`
	FromText  bool               `json:"from_text"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store is the persistence gateway contract. Every call is fallible I/O;
// implementations wrap transport failures in *NetworkError.
type Store interface {
	CreateSession(ctx context.Context, userID, title string) (StoredSession, error)
	GetSession(ctx context.Context, sessionID string) (StoredSession, error)
	GetUserSessions(ctx context.Context, userID string) ([]StoredSession, error)
	GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error)
	AppendMessage(ctx context.Context, msg StoredMessage) error
	UpdateTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
