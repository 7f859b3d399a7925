package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sess, err := s.CreateSession(ctx, "u1", "First chat")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("session id is empty")
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Title != "First chat" {
		t.Fatalf("Title = %q, want %q", got.Title, "First chat")
	}

	if err := s.UpdateTitle(ctx, sess.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.Title != "Renamed" {
		t.Fatalf("Title = %q, want %q after update", got.Title, "Renamed")
	}

	sessions, err := s.GetUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession() after delete error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreAppendMessageUpdatesPreview(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "u1", "")

	msg := StoredMessage{
		SessionID: sess.ID,
		Role:      "assistant",
		Content:   "Hi there",
		Prosody:   map[string]float64{"Joy": 0.8},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	msgs, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Prosody["Joy"] != 0.8 {
		t.Fatalf("Prosody[Joy] = %v, want 0.8", msgs[0].Prosody["Joy"])
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.LastMessagePreview != "Hi there" {
		t.Fatalf("LastMessagePreview = %q, want %q", got.LastMessagePreview, "Hi there")
	}
}

func TestInMemoryStoreAppendMessageUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	err := s.AppendMessage(context.Background(), StoredMessage{SessionID: "nope", Role: "user", Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendMessage() error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreDeleteCascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "u1", "")
	_ = s.AppendMessage(ctx, StoredMessage{SessionID: sess.ID, Role: "user", Content: "hi"})

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if len(s.messages[sess.ID]) != 0 {
		t.Fatalf("messages survived session delete")
	}
}

func TestPreviewOfTruncatesLongContent(t *testing.T) {
	long := make([]rune, previewLimit+40)
	for i := range long {
		long[i] = 'a'
	}
	got := previewOf(string(long))
	if len([]rune(got)) != previewLimit {
		t.Fatalf("preview length = %d, want %d", len([]rune(got)), previewLimit)
	}
}
