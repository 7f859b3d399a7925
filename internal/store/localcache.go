package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// LocalCache is the device-local message cache backed by SQLite. It carries
// the same gateway contract as the remote store so the merge pipeline can
// treat cached history as just another source.
type LocalCache struct {
	db *sql.DB
}

func OpenLocalCache(path string) (*LocalCache, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping local cache: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			last_message_preview TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			prosody TEXT,
			from_text INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init local cache schema: %w", err)
		}
	}
	return &LocalCache{db: db}, nil
}

func (c *LocalCache) CreateSession(ctx context.Context, userID, title string) (StoredSession, error) {
	sess := StoredSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return StoredSession{}, fmt.Errorf("cache create session: %w", err)
	}
	return sess, nil
}

// CacheSession upserts a session row observed from the remote store.
func (c *LocalCache) CacheSession(ctx context.Context, sess StoredSession) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, last_message_preview, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, last_message_preview=excluded.last_message_preview`,
		sess.ID, sess.UserID, sess.Title, sess.LastMessagePreview, sess.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	return nil
}

func (c *LocalCache) GetSession(ctx context.Context, sessionID string) (StoredSession, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, last_message_preview, created_at FROM sessions WHERE id=?`,
		sessionID,
	)
	sess, err := scanCachedSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredSession{}, ErrNotFound
		}
		return StoredSession{}, fmt.Errorf("cache get session: %w", err)
	}
	return sess, nil
}

func (c *LocalCache) GetUserSessions(ctx context.Context, userID string) ([]StoredSession, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, user_id, title, last_message_preview, created_at
		 FROM sessions WHERE user_id=? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("cache list sessions: %w", err)
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		sess, err := scanCachedSession(rows)
		if err != nil {
			return nil, fmt.Errorf("cache scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (c *LocalCache) GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, prosody, from_text, created_at
		 FROM messages WHERE session_id=? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("cache get messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		var prosody sql.NullString
		var fromText int
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &prosody, &fromText, &createdAt); err != nil {
			return nil, fmt.Errorf("cache scan message: %w", err)
		}
		if prosody.Valid && prosody.String != "" {
			if err := json.Unmarshal([]byte(prosody.String), &msg.Prosody); err != nil {
				return nil, fmt.Errorf("cache decode prosody: %w", err)
			}
		}
		msg.FromText = fromText != 0
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MessagesForUser returns every cached message across the user's sessions,
// the cross-session history source fed to the merge pipeline.
func (c *LocalCache) MessagesForUser(ctx context.Context, userID string) ([]StoredMessage, error) {
	sessions, err := c.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []StoredMessage
	for _, sess := range sessions {
		msgs, err := c.GetMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (c *LocalCache) AppendMessage(ctx context.Context, msg StoredMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var prosody any
	if len(msg.Prosody) > 0 {
		data, err := json.Marshal(msg.Prosody)
		if err != nil {
			return fmt.Errorf("cache encode prosody: %w", err)
		}
		prosody = string(data)
	}
	fromText := 0
	if msg.FromText {
		fromText = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, session_id, role, content, prosody, from_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, prosody, fromText, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache append message: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`UPDATE sessions SET last_message_preview=? WHERE id=?`,
		previewOf(msg.Content), msg.SessionID,
	)
	if err != nil {
		return fmt.Errorf("cache update preview: %w", err)
	}
	return nil
}

func (c *LocalCache) UpdateTitle(ctx context.Context, sessionID, title string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE sessions SET title=? WHERE id=?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("cache update title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache update title: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *LocalCache) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id=?`, sessionID); err != nil {
		return fmt.Errorf("cache delete messages: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, sessionID)
	if err != nil {
		return fmt.Errorf("cache delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *LocalCache) Close() error { return c.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCachedSession(row rowScanner) (StoredSession, error) {
	var sess StoredSession
	var createdAt int64
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.LastMessagePreview, &createdAt); err != nil {
		return StoredSession{}, err
	}
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	return sess, nil
}
