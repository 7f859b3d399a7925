package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultVisibleLimit bounds the live buffer so a long call cannot grow
// memory without limit. Older messages are already persisted by then.
const DefaultVisibleLimit = 100

// Message is one committed line of the live conversation.
type Message struct {
	ID        string
	Role      string
	Content   string
	Prosody   map[string]float64
	FromText  bool
	CreatedAt time.Time
}

// Player is the slice of the playback queue the store needs: enough to
// detect barge-in and to flush speech the user talked over.
type Player interface {
	IsPlaying() bool
	Clear()
}

type Config struct {
	VisibleLimit int
	// OnCommit fires for every message that becomes visible, in commit
	// order. Persistence hangs off this hook.
	OnCommit func(Message)
	// OnInterruption fires when a final user transcript arrives while
	// assistant audio is still playing.
	OnInterruption func()
}

// Store holds the live transcript of one voice session. Assistant
// transcripts arrive ahead of their audio and stay invisible until the
// matching clip actually starts playing; user transcripts become visible
// only once final.
type Store struct {
	cfg    Config
	player Player

	mu           sync.Mutex
	visible      []Message
	pending      map[string]Message
	pendingOrder []string
}

func NewStore(cfg Config) *Store {
	if cfg.VisibleLimit <= 0 {
		cfg.VisibleLimit = DefaultVisibleLimit
	}
	return &Store{
		cfg:     cfg,
		pending: make(map[string]Message),
	}
}

// BindPlayer attaches the playback queue after construction. The store and
// the queue reference each other, so one of the two links is set late.
func (s *Store) BindPlayer(p Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// AddAssistantTranscript stages an assistant message. With a clip id the
// message stays pending until CommitClip; without one (text-only turns)
// it commits immediately.
func (s *Store) AddAssistantTranscript(clipID string, msg Message) {
	msg = normalize(msg, "assistant")

	if clipID == "" {
		s.commit(msg)
		return
	}

	s.mu.Lock()
	if _, exists := s.pending[clipID]; !exists {
		s.pendingOrder = append(s.pendingOrder, clipID)
	}
	s.pending[clipID] = msg
	s.mu.Unlock()
}

// CommitClip makes the transcript staged for clipID visible. Commits for
// unknown or already-committed clips are ignored.
func (s *Store) CommitClip(clipID string) {
	s.mu.Lock()
	msg, ok := s.pending[clipID]
	if ok {
		delete(s.pending, clipID)
		s.removePendingOrder(clipID)
	}
	s.mu.Unlock()

	if ok {
		s.commit(msg)
	}
}

// DropClip discards a staged transcript whose audio will never play.
func (s *Store) DropClip(clipID string) {
	s.mu.Lock()
	if _, ok := s.pending[clipID]; ok {
		delete(s.pending, clipID)
		s.removePendingOrder(clipID)
	}
	s.mu.Unlock()
}

// AddUserTranscript records what the user said. Interim transcripts are
// discarded outright. A final transcript that lands while the assistant is
// mid-speech counts as an interruption: queued audio is flushed and every
// uncommitted assistant transcript is dropped before the user line commits.
func (s *Store) AddUserTranscript(msg Message, interim bool) {
	if interim {
		return
	}
	msg = normalize(msg, "user")

	s.mu.Lock()
	player := s.player
	s.mu.Unlock()

	if player != nil && player.IsPlaying() {
		s.Interrupt()
		if s.cfg.OnInterruption != nil {
			s.cfg.OnInterruption()
		}
	}
	s.commit(msg)
}

// Interrupt flushes assistant playback and drops all pending transcripts.
// Visible history is untouched.
func (s *Store) Interrupt() {
	s.mu.Lock()
	player := s.player
	s.pending = make(map[string]Message)
	s.pendingOrder = nil
	s.mu.Unlock()

	if player != nil {
		player.Clear()
	}
}

// Clear resets the store for a fresh session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.visible = nil
	s.pending = make(map[string]Message)
	s.pendingOrder = nil
	s.mu.Unlock()
}

// Snapshot returns a copy of the visible transcript in commit order.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.visible))
	copy(out, s.visible)
	return out
}

// PendingCount reports how many assistant transcripts await their audio.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) commit(msg Message) {
	s.mu.Lock()
	s.visible = append(s.visible, msg)
	if over := len(s.visible) - s.cfg.VisibleLimit; over > 0 {
		s.visible = append([]Message(nil), s.visible[over:]...)
	}
	s.mu.Unlock()

	if s.cfg.OnCommit != nil {
		s.cfg.OnCommit(msg)
	}
}

func (s *Store) removePendingOrder(clipID string) {
	for i, id := range s.pendingOrder {
		if id == clipID {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			return
		}
	}
}

func normalize(msg Message, role string) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = role
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
