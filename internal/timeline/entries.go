package timeline

import (
	"fmt"
	"strings"
	"time"
)

// Entry is anything that can appear in the rendered conversation timeline:
// dialogue, call boundaries, and synthetic display markers.
type Entry interface {
	EntryID() string
	EntryTime() time.Time
}

const sessionPrefixRunes = 8

// sessionIDPrefix truncates a session id to the first eight runes. Derived
// message ids use the prefix so live and persisted copies of the same
// message collide even when sources disagree about id formatting.
func sessionIDPrefix(sessionID string) string {
	runes := []rune(sessionID)
	if len(runes) <= sessionPrefixRunes {
		return sessionID
	}
	return string(runes[:sessionPrefixRunes])
}

// DeriveMessageID builds the dedup identity of a message. Two messages with
// the same session prefix, role, and content are treated as one, whichever
// source they came from.
func DeriveMessageID(sessionID, role, content string) string {
	return sessionIDPrefix(sessionID) + "|" + role + "|" + content
}

// Message is one dialogue turn, from any of the three sources.
type Message struct {
	SessionID    string
	SessionTitle string
	Role         string
	Content      string
	Prosody      map[string]float64
	FromText     bool
	Timestamp    time.Time
}

func (m Message) EntryID() string      { return DeriveMessageID(m.SessionID, m.Role, m.Content) }
func (m Message) EntryTime() time.Time { return m.Timestamp }

// Voice reports whether this message belongs to a voice conversation. There
// is no authoritative session-type field, so this is a heuristic: the
// session title mentions voice, or the utterance carries prosody scores.
func (m Message) Voice() bool {
	if len(m.Prosody) > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(m.SessionTitle), "voice")
}

const (
	EventSocketConnected    = "socket_connected"
	EventSocketDisconnected = "socket_disconnected"
)

// ConnectionEvent marks a call boundary in the timeline.
type ConnectionEvent struct {
	Kind   string
	Code   int
	Reason string
	At     time.Time
}

func (e ConnectionEvent) EntryID() string {
	return "conn|" + e.Kind + "|" + e.At.UTC().Format(time.RFC3339Nano)
}
func (e ConnectionEvent) EntryTime() time.Time { return e.At }

// DateMarker separates timeline entries that fall on different calendar
// days. Date is the ISO day in UTC, e.g. "2026-08-31".
type DateMarker struct {
	Date string
	At   time.Time
}

func (d DateMarker) EntryID() string      { return "date|" + d.Date }
func (d DateMarker) EntryTime() time.Time { return d.At }

// CallDurationMarker summarizes a finished voice run of at least one
// minute. Shorter runs produce no marker to keep the timeline quiet.
type CallDurationMarker struct {
	SessionID string
	Minutes   int
	At        time.Time
}

func (c CallDurationMarker) EntryID() string {
	return "call|" + sessionIDPrefix(c.SessionID) + "|" + c.At.UTC().Format(time.RFC3339Nano)
}
func (c CallDurationMarker) EntryTime() time.Time { return c.At }

// Duration renders the marker for display: "1 minute", "5 minutes".
func (c CallDurationMarker) Duration() string {
	if c.Minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", c.Minutes)
}
