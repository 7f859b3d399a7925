package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			last_message_preview TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			prosody JSONB,
			from_text BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_created ON chat_sessions (user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created ON chat_messages (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, userID, title string) (StoredSession, error) {
	sess := StoredSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt,
	)
	if err != nil {
		return StoredSession{}, &NetworkError{Op: "create session", Err: err}
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (StoredSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, last_message_preview, created_at FROM chat_sessions WHERE id=$1`,
		sessionID,
	)
	var sess StoredSession
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.LastMessagePreview, &sess.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredSession{}, ErrNotFound
		}
		return StoredSession{}, &NetworkError{Op: "get session", Err: err}
	}
	return sess, nil
}

func (s *PostgresStore) GetUserSessions(ctx context.Context, userID string) ([]StoredSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, last_message_preview, created_at
		 FROM chat_sessions WHERE user_id=$1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, &NetworkError{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		var sess StoredSession
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.LastMessagePreview, &sess.CreatedAt); err != nil {
			return nil, &NetworkError{Op: "scan session", Err: err}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &NetworkError{Op: "iterate sessions", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, prosody, from_text, created_at
		 FROM chat_messages WHERE session_id=$1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, &NetworkError{Op: "get messages", Err: err}
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		var prosody []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &prosody, &msg.FromText, &msg.CreatedAt); err != nil {
			return nil, &NetworkError{Op: "scan message", Err: err}
		}
		if len(prosody) > 0 {
			if err := json.Unmarshal(prosody, &msg.Prosody); err != nil {
				return nil, fmt.Errorf("decode prosody: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &NetworkError{Op: "iterate messages", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg StoredMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var prosody []byte
	if len(msg.Prosody) > 0 {
		var err error
		prosody, err = json.Marshal(msg.Prosody)
		if err != nil {
			return fmt.Errorf("encode prosody: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &NetworkError{Op: "append message", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET last_message_preview=$2 WHERE id=$1`,
		msg.SessionID, previewOf(msg.Content),
	)
	if err != nil {
		return &NetworkError{Op: "append message", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, prosody, from_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, prosody, msg.FromText, msg.CreatedAt,
	)
	if err != nil {
		return &NetworkError{Op: "append message", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &NetworkError{Op: "append message", Err: err}
	}
	return nil
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_sessions SET title=$2 WHERE id=$1`,
		sessionID, title,
	)
	if err != nil {
		return &NetworkError{Op: "update title", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	// Messages cascade via the foreign key.
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id=$1`, sessionID)
	if err != nil {
		return &NetworkError{Op: "delete session", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
