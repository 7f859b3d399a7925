package store

import (
	"context"

	"github.com/nvasile/amica/internal/reliability"
)

// Retrying wraps a Store and applies the retry policy to session-load
// operations. Writes are not retried here; a failed append surfaces to the
// caller who decides whether a user-visible retry is warranted.
type Retrying struct {
	inner   Store
	policy  reliability.RetryPolicy
	onRetry func(op string)
}

func NewRetrying(inner Store, policy reliability.RetryPolicy, onRetry func(op string)) *Retrying {
	return &Retrying{inner: inner, policy: policy, onRetry: onRetry}
}

func (r *Retrying) CreateSession(ctx context.Context, userID, title string) (StoredSession, error) {
	return r.inner.CreateSession(ctx, userID, title)
}

func (r *Retrying) GetSession(ctx context.Context, sessionID string) (StoredSession, error) {
	var sess StoredSession
	err := r.policy.Do(ctx, r.observe("get_session"), func(ctx context.Context) error {
		var err error
		sess, err = r.inner.GetSession(ctx, sessionID)
		return err
	})
	return sess, err
}

func (r *Retrying) GetUserSessions(ctx context.Context, userID string) ([]StoredSession, error) {
	var sessions []StoredSession
	err := r.policy.Do(ctx, r.observe("list_sessions"), func(ctx context.Context) error {
		var err error
		sessions, err = r.inner.GetUserSessions(ctx, userID)
		return err
	})
	return sessions, err
}

func (r *Retrying) GetMessages(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	var msgs []StoredMessage
	err := r.policy.Do(ctx, r.observe("get_messages"), func(ctx context.Context) error {
		var err error
		msgs, err = r.inner.GetMessages(ctx, sessionID)
		return err
	})
	return msgs, err
}

func (r *Retrying) AppendMessage(ctx context.Context, msg StoredMessage) error {
	return r.inner.AppendMessage(ctx, msg)
}

func (r *Retrying) UpdateTitle(ctx context.Context, sessionID, title string) error {
	return r.inner.UpdateTitle(ctx, sessionID, title)
}

func (r *Retrying) DeleteSession(ctx context.Context, sessionID string) error {
	return r.inner.DeleteSession(ctx, sessionID)
}

func (r *Retrying) Close() error { return r.inner.Close() }

func (r *Retrying) observe(op string) func(int, error) {
	if r.onRetry == nil {
		return nil
	}
	return func(int, error) { r.onRetry(op) }
}
