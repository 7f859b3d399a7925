package httpapi

import (
	"net/http"
	"time"

	"github.com/nvasile/amica/internal/store"
	"github.com/nvasile/amica/internal/timeline"
)

// handleTimeline merges cached history, remote messages, and the live
// transcript into one ordered, de-duplicated view of the conversation.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	remote, err := s.store.GetMessages(r.Context(), sess.ID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "store_unavailable", err.Error())
		return
	}

	in := timeline.Input{
		Remote:      toTimelineMessages(remote, sess.Title),
		MaxMessages: s.cfg.MergeMaxMessages,
	}
	if s.cache != nil {
		if history, err := s.cache.MessagesForUser(r.Context(), requestUser(r)); err == nil {
			in.History = toTimelineMessages(history, "")
		}
	}
	if s.controller.BoundSession() == sess.ID {
		for _, msg := range s.transcript.Snapshot() {
			in.Live = append(in.Live, timeline.Message{
				SessionID:    sess.ID,
				SessionTitle: sess.Title,
				Role:         msg.Role,
				Content:      msg.Content,
				Prosody:      msg.Prosody,
				FromText:     msg.FromText,
				Timestamp:    msg.CreatedAt,
			})
		}
		in.Events = s.controller.ConnectionEvents()
	}

	entries := timeline.Merge(in)
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entryBody(entry))
	}
	respondJSON(w, http.StatusOK, out)
}

func toTimelineMessages(msgs []store.StoredMessage, title string) []timeline.Message {
	out := make([]timeline.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, timeline.Message{
			SessionID:    msg.SessionID,
			SessionTitle: title,
			Role:         msg.Role,
			Content:      msg.Content,
			Prosody:      msg.Prosody,
			FromText:     msg.FromText,
			Timestamp:    msg.CreatedAt,
		})
	}
	return out
}

func entryBody(entry timeline.Entry) map[string]any {
	switch e := entry.(type) {
	case timeline.Message:
		body := map[string]any{
			"kind":       "message",
			"id":         e.EntryID(),
			"session_id": e.SessionID,
			"role":       e.Role,
			"content":    e.Content,
			"from_text":  e.FromText,
			"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if len(e.Prosody) > 0 {
			body["prosody"] = e.Prosody
		}
		return body
	case timeline.ConnectionEvent:
		body := map[string]any{
			"kind":      "connection_event",
			"id":        e.EntryID(),
			"event":     e.Kind,
			"timestamp": e.At.UTC().Format(time.RFC3339Nano),
		}
		if e.Kind == timeline.EventSocketDisconnected {
			body["code"] = e.Code
			body["reason"] = e.Reason
		}
		return body
	case timeline.DateMarker:
		return map[string]any{
			"kind":      "date_marker",
			"id":        e.EntryID(),
			"date":      e.Date,
			"timestamp": e.At.UTC().Format(time.RFC3339Nano),
		}
	case timeline.CallDurationMarker:
		return map[string]any{
			"kind":       "call_duration",
			"id":         e.EntryID(),
			"session_id": e.SessionID,
			"duration":   e.Duration(),
			"minutes":    e.Minutes,
			"timestamp":  e.At.UTC().Format(time.RFC3339Nano),
		}
	default:
		return map[string]any{"kind": "unknown", "id": entry.EntryID()}
	}
}
