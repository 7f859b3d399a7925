package audio

import (
	"sync"
	"time"
)

// Clip is one discrete unit of synthesized assistant speech.
type Clip struct {
	ID         string
	PCM        []byte
	SampleRate int
}

// Sink receives decoded PCM for rendering. A nil sink discards audio, which
// keeps the queue's ordering and event contract intact without a device.
type Sink interface {
	Write(pcm []byte) error
}

type QueueConfig struct {
	Sink Sink
	// Paced sleeps between chunks to approximate realtime when the sink does
	// not block on its own (file sinks, test sinks).
	Paced bool
	Tick  time.Duration
	// OnPlay fires when a clip begins rendering; OnStop when it finishes or
	// is discarded.
	OnPlay func(clipID string)
	OnStop func(clipID string)
	// OnDepth observes queue depth changes.
	OnDepth func(depth int)
}

// Queue plays assistant audio clips strictly in arrival order and supports
// discarding all unplayed clips at any time.
type Queue struct {
	cfg QueueConfig

	mu        sync.Mutex
	clips     []Clip
	playing   bool
	current   string
	muted     bool
	closed    bool
	interrupt chan struct{}

	wake chan struct{}
	done chan struct{}
}

func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Tick <= 0 {
		cfg.Tick = 20 * time.Millisecond
	}
	q := &Queue{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Add appends a clip; playback of the queue head begins if idle.
func (q *Queue) Add(clip Clip) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.clips = append(q.clips, clip)
	depth := len(q.clips)
	q.mu.Unlock()

	q.observeDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear stops current playback and discards all queued clips. Safe to call
// at any time, including when the queue is already empty.
func (q *Queue) Clear() {
	q.mu.Lock()
	discarded := q.clips
	q.clips = nil
	cancel := q.interrupt
	q.interrupt = nil
	q.mu.Unlock()

	if cancel != nil {
		close(cancel)
	}
	for _, clip := range discarded {
		q.stopEvent(clip.ID)
	}
	if len(discarded) > 0 {
		q.observeDepth(0)
	}
}

func (q *Queue) SetMuted(muted bool) {
	q.mu.Lock()
	q.muted = muted
	q.mu.Unlock()
}

func (q *Queue) Muted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.muted
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clips)
}

func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Close discards everything and stops the playback goroutine. The wake
// channel is never closed, so a racing Add can always signal it safely.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.clips) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		clip := q.clips[0]
		q.clips = q.clips[1:]
		depth := len(q.clips)
		cancel := make(chan struct{})
		q.interrupt = cancel
		q.playing = true
		q.current = clip.ID
		q.mu.Unlock()

		q.observeDepth(depth)
		if q.cfg.OnPlay != nil {
			q.cfg.OnPlay(clip.ID)
		}
		q.render(clip, cancel)

		q.mu.Lock()
		q.playing = false
		q.current = ""
		if q.interrupt == cancel {
			q.interrupt = nil
		}
		q.mu.Unlock()
		q.stopEvent(clip.ID)
	}
}

func (q *Queue) render(clip Clip, cancel <-chan struct{}) {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	chunkBytes := int(int64(sampleRate*2) * int64(q.cfg.Tick) / int64(time.Second))
	if chunkBytes <= 0 {
		chunkBytes = 640
	}

	for off := 0; off < len(clip.PCM); off += chunkBytes {
		select {
		case <-cancel:
			return
		default:
		}

		end := off + chunkBytes
		if end > len(clip.PCM) {
			end = len(clip.PCM)
		}
		// Mute suppresses output without stalling queue progression.
		if !q.Muted() && q.cfg.Sink != nil {
			if err := q.cfg.Sink.Write(clip.PCM[off:end]); err != nil {
				return
			}
		}
		if q.cfg.Paced {
			timer := time.NewTimer(q.cfg.Tick)
			select {
			case <-cancel:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (q *Queue) stopEvent(clipID string) {
	if q.cfg.OnStop != nil {
		q.cfg.OnStop(clipID)
	}
}

func (q *Queue) observeDepth(depth int) {
	if q.cfg.OnDepth != nil {
		q.cfg.OnDepth(depth)
	}
}
