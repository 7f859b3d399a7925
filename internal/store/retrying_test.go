package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nvasile/amica/internal/reliability"
)

type flakyStore struct {
	*InMemoryStore
	failures int
	loads    int
	appends  int
}

func (f *flakyStore) GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	f.loads++
	if f.loads <= f.failures {
		return nil, &NetworkError{Op: "get messages", Err: errors.New("connection reset")}
	}
	return f.InMemoryStore.GetMessages(ctx, sessionID)
}

func (f *flakyStore) AppendMessage(ctx context.Context, msg StoredMessage) error {
	f.appends++
	if f.appends <= f.failures {
		return &NetworkError{Op: "append message", Err: errors.New("connection reset")}
	}
	return f.InMemoryStore.AppendMessage(ctx, msg)
}

func fastPolicy() reliability.RetryPolicy {
	return reliability.RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func TestRetryingRetriesSessionLoads(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 2}
	sess, _ := inner.CreateSession(ctx, "u1", "")

	var retried []string
	r := NewRetrying(inner, fastPolicy(), func(op string) { retried = append(retried, op) })

	if _, err := r.GetMessages(ctx, sess.ID); err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if inner.loads != 3 {
		t.Fatalf("loads = %d, want 3", inner.loads)
	}
	if len(retried) != 2 || retried[0] != "get_messages" {
		t.Fatalf("retries = %v, want two get_messages retries", retried)
	}
}

func TestRetryingDoesNotRetryAppends(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 1}
	sess, _ := inner.CreateSession(ctx, "u1", "")

	r := NewRetrying(inner, fastPolicy(), nil)

	var netErr *NetworkError
	err := r.AppendMessage(ctx, StoredMessage{SessionID: sess.ID, Role: "user", Content: "hi"})
	if !errors.As(err, &netErr) {
		t.Fatalf("AppendMessage() error = %v, want NetworkError", err)
	}
	if inner.appends != 1 {
		t.Fatalf("appends = %d, want 1 (no silent retry)", inner.appends)
	}
}

func TestRetryingDoesNotRetryNotFound(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{InMemoryStore: NewInMemoryStore()}
	r := NewRetrying(inner, fastPolicy(), nil)

	if _, err := r.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	err := &NetworkError{Op: "get messages", Err: errors.New("boom")}
	if !reliability.IsRetryableError(err) {
		t.Fatalf("IsRetryableError(NetworkError) = false, want true")
	}
}
