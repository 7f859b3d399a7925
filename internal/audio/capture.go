package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ErrNoDevice reports that no capture device or input stream is available.
var ErrNoDevice = errors.New("audio capture device unavailable")

// Frame is one encoded capture interval of microphone audio.
type Frame struct {
	PCM        []byte
	SampleRate int
	CapturedAt time.Time
}

// Source owns exactly one capture handle. The frame channel is the only way
// audio leaves the source; consumers never touch the underlying device.
type Source interface {
	// Start begins capture and returns the frame channel. Permission or
	// device failures surface here, before any frame is produced. The
	// channel closes when the input is exhausted or the source stops.
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// ReaderSource paces PCM16LE frames out of an io.Reader, emulating a live
// microphone. Capture runs on its own goroutine and communicates with the
// caller exclusively through the frame channel. The source is reusable: a
// stopped source can be started again, and seekable inputs rewind so each
// session replays from the beginning.
type ReaderSource struct {
	r          io.Reader
	sampleRate int
	interval   time.Duration
	realtime   bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewReaderSource(r io.Reader, sampleRate int, interval time.Duration, realtime bool) *ReaderSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ReaderSource{
		r:          r,
		sampleRate: sampleRate,
		interval:   interval,
		realtime:   realtime,
	}
}

func (s *ReaderSource) Start(ctx context.Context) (<-chan Frame, error) {
	if s.r == nil {
		return nil, ErrNoDevice
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil, errors.New("capture source already started")
	}
	if seeker, ok := s.r.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("rewind capture input: %w", err)
		}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done
	s.mu.Unlock()

	frames := make(chan Frame, 32)
	go s.pump(ctx, stop, done, frames)
	return frames, nil
}

// Stop ends the current capture and waits for the pump goroutine to exit,
// so the source is immediately startable again. Idempotent.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *ReaderSource) pump(ctx context.Context, stop <-chan struct{}, done chan<- struct{}, frames chan<- Frame) {
	defer close(done)
	defer close(frames)

	frameBytes := int(int64(s.sampleRate*2) * int64(s.interval) / int64(time.Second))
	if frameBytes <= 0 {
		frameBytes = 3200
	}

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			frame := Frame{PCM: buf[:n], SampleRate: s.sampleRate, CapturedAt: time.Now().UTC()}
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case frames <- frame:
			}
		}
		if err != nil {
			// EOF and short final reads end capture cleanly.
			return
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}
		}
	}
}

// NewWAVFileSource captures from a WAV recording, pacing frames in realtime.
// Useful for development and soak runs without a physical microphone.
func NewWAVFileSource(path string, interval time.Duration) (*ReaderSource, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture wav: %w", err)
	}
	pcm, sampleRate, err := DecodeWAVPCM16LE(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("decode capture wav: %w", err)
	}
	src := NewReaderSource(bytes.NewReader(pcm), sampleRate, interval, true)
	return src, f.Close, nil
}
