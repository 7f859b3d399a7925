package timeline

import (
	"sort"
	"time"
)

// DefaultMaxMessages caps how much dialogue one merge emits. Older history
// stays reachable through paging against the stores, not through this view.
const DefaultMaxMessages = 50

// Input carries the three overlapping message sources plus any call
// boundaries recorded during the live session. Priority on id collision is
// History < Remote < Live.
type Input struct {
	// History holds cross-session messages from the device-local cache.
	History []Message
	// Remote holds server-persisted messages for the current session.
	Remote []Message
	// Live holds in-memory messages from the current connection. They carry
	// the freshest metadata (live prosody), so they win every collision.
	Live []Message

	Events []ConnectionEvent

	// MaxMessages bounds the dialogue entries kept after dedup; zero means
	// DefaultMaxMessages.
	MaxMessages int
}

// Merge computes the display timeline from scratch. It is a pure function
// of its input: same sources in, same entries out. Callers re-run it on any
// source change rather than patching previous output.
func Merge(in Input) []Entry {
	limit := in.MaxMessages
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	// Messages without a timestamp sort with the newest entries, stamped
	// with the latest time seen anywhere in the input. Derived from the
	// input rather than the wall clock so the merge stays a pure function.
	var latest time.Time
	for _, source := range [][]Message{in.History, in.Remote, in.Live} {
		for _, msg := range source {
			if msg.Timestamp.After(latest) {
				latest = msg.Timestamp
			}
		}
	}
	for _, ev := range in.Events {
		if ev.At.After(latest) {
			latest = ev.At
		}
	}

	byID := make(map[string]Message)
	for _, source := range [][]Message{in.History, in.Remote, in.Live} {
		for _, msg := range source {
			if msg.Timestamp.IsZero() {
				msg.Timestamp = latest
			}
			byID[msg.EntryID()] = msg
		}
	}

	msgs := make([]Message, 0, len(byID))
	for _, msg := range byID {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].EntryID() < msgs[j].EntryID()
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	entries := make([]Entry, 0, len(msgs)+len(in.Events))
	for _, msg := range msgs {
		entries = append(entries, msg)
	}
	for _, ev := range in.Events {
		entries = append(entries, ev)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EntryTime().Equal(entries[j].EntryTime()) {
			return entries[i].EntryTime().Before(entries[j].EntryTime())
		}
		return entries[i].EntryID() < entries[j].EntryID()
	})

	return decorate(entries)
}

// decorate inserts date markers on calendar-day changes and duration
// markers after voice runs of a minute or more.
func decorate(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries)+4)

	var prevDay string
	var run *voiceRun
	for _, entry := range entries {
		day := entry.EntryTime().UTC().Format("2006-01-02")
		if prevDay != "" && day != prevDay {
			if marker := run.finish(); marker != nil {
				out = append(out, *marker)
			}
			run = nil
			out = append(out, DateMarker{Date: day, At: entry.EntryTime()})
		}
		prevDay = day

		msg, isMsg := entry.(Message)
		switch {
		case isMsg && msg.Voice():
			if run != nil && run.sessionID != msg.SessionID {
				if marker := run.finish(); marker != nil {
					out = append(out, *marker)
				}
				run = nil
			}
			if run == nil {
				run = &voiceRun{sessionID: msg.SessionID, first: msg.Timestamp}
			}
			run.last = msg.Timestamp
		default:
			// Anything that is not a voice message of the same session ends
			// the contiguous run.
			if marker := run.finish(); marker != nil {
				out = append(out, *marker)
			}
			run = nil
		}
		out = append(out, entry)
	}
	if marker := run.finish(); marker != nil {
		out = append(out, *marker)
	}
	return out
}

type voiceRun struct {
	sessionID   string
	first, last time.Time
}

func (r *voiceRun) finish() *CallDurationMarker {
	if r == nil {
		return nil
	}
	minutes := int(r.last.Sub(r.first) / time.Minute)
	if minutes < 1 {
		return nil
	}
	return &CallDurationMarker{SessionID: r.sessionID, Minutes: minutes, At: r.last}
}
