package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/nvasile/amica/internal/audio"
	"github.com/nvasile/amica/internal/evi"
	"github.com/nvasile/amica/internal/observability"
	"github.com/nvasile/amica/internal/protocol"
	"github.com/nvasile/amica/internal/timeline"
	"github.com/nvasile/amica/internal/transcript"
)

// Status is the controller's connection state machine.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusDisconnecting Status = "disconnecting"
	StatusError         Status = "error"
)

// Socket is the outbound half of one voice connection. Inbound frames
// arrive on the event channel returned by the dialer.
type Socket interface {
	SendAudio(ctx context.Context, audioBase64 string) error
	SendUserText(ctx context.Context, text string) error
	SendAssistantText(ctx context.Context, text string) error
	SendSessionSettings(ctx context.Context, systemPrompt string, variables map[string]string) error
	SendPauseAssistant(ctx context.Context) error
	SendResumeAssistant(ctx context.Context) error
	SendToolResponse(ctx context.Context, toolCallID, content string) error
	Close() error
}

// SocketDialer opens one connection. The channel carries parsed provider
// frames and ends with an evi.Closed value.
type SocketDialer func(ctx context.Context) (Socket, <-chan any, error)

// Player is the slice of the playback queue the controller drives.
type Player interface {
	Add(clip audio.Clip)
	Clear()
	SetMuted(muted bool)
	IsPlaying() bool
}

// ChatBinding is the provider-side identity of the current conversation,
// learned from the chat_metadata frame.
type ChatBinding struct {
	ChatID      string
	ChatGroupID string
}

type Config struct {
	Dial       SocketDialer
	Source     audio.Source
	Player     Player
	Transcript *transcript.Store

	// Session settings pushed right after the socket opens.
	SystemPrompt string
	Variables    map[string]string

	// ClearOnDisconnect wipes the live transcript when the call ends.
	ClearOnDisconnect bool

	// OnToolCall answers provider tool invocations. Nil means tool calls
	// are acknowledged by silence.
	OnToolCall func(ctx context.Context, name string, params json.RawMessage) (string, error)

	Metrics *observability.Metrics
	Latency *observability.LatencyWindow
}

// Controller is the single authority over the connect/disconnect lifecycle
// of a voice call. It owns no audio or socket handles directly; it
// coordinates the components that do.
type Controller struct {
	cfg Config

	mu           sync.Mutex
	status       Status
	lastErr      *Error
	socket       Socket
	cancel       context.CancelFunc
	paused       bool
	connectedAt  time.Time
	callDuration time.Duration
	chat         ChatBinding
	boundSession string
	events       []timeline.ConnectionEvent
	clipArrivals map[string]time.Time
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:          cfg,
		status:       StatusDisconnected,
		clipArrivals: make(map[string]time.Time),
	}
}

// Connect brings up microphone, socket, and playback in that order. Only
// valid from disconnected or error; a connect in flight is not re-entrant.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnecting:
		c.mu.Unlock()
		return newError(ErrKindSocket, "connection attempt already in progress", nil)
	case StatusConnected, StatusDisconnecting:
		c.mu.Unlock()
		return newError(ErrKindSocket, "already connected", nil)
	}
	c.lastErr = nil
	c.status = StatusConnecting
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	// Microphone first: a permission failure must reject the whole attempt
	// before any network work happens.
	frames, err := c.cfg.Source.Start(runCtx)
	if err != nil {
		cancel()
		return c.connectFailed(newError(ErrKindMic, "microphone unavailable", err))
	}

	sock, events, err := c.cfg.Dial(ctx)
	if err != nil {
		cancel()
		_ = c.cfg.Source.Stop()
		return c.connectFailed(newError(ErrKindSocket, "voice socket handshake failed", err))
	}

	// Prime playback and push session settings while capture spins up.
	var prep sync.WaitGroup
	var settingsErr error
	prep.Add(1)
	go func() {
		defer prep.Done()
		c.cfg.Player.Clear()
		c.cfg.Player.SetMuted(false)
	}()
	if c.cfg.SystemPrompt != "" || len(c.cfg.Variables) > 0 {
		prep.Add(1)
		go func() {
			defer prep.Done()
			settingsErr = sock.SendSessionSettings(ctx, c.cfg.SystemPrompt, c.cfg.Variables)
		}()
	}
	prep.Wait()
	if settingsErr != nil {
		cancel()
		_ = c.cfg.Source.Stop()
		_ = sock.Close()
		return c.connectFailed(newError(ErrKindSocket, "session settings rejected", settingsErr))
	}

	now := time.Now().UTC()
	c.mu.Lock()
	// A Disconnect that landed during the handshake wins: release everything
	// instead of resurrecting the connection behind the caller's back.
	if c.status != StatusConnecting {
		c.mu.Unlock()
		cancel()
		_ = sock.Close()
		_ = c.cfg.Source.Stop()
		return newError(ErrKindSocket, "connection cancelled", nil)
	}
	c.socket = sock
	c.cancel = cancel
	c.status = StatusConnected
	c.connectedAt = now
	c.events = append(c.events, timeline.ConnectionEvent{Kind: timeline.EventSocketConnected, At: now})
	c.mu.Unlock()

	go c.eventLoop(sock, events)
	go c.capturePump(runCtx, frames, sock)

	if m := c.cfg.Metrics; m != nil {
		m.ActiveConnections.Inc()
		m.ConnectionEvents.WithLabelValues(timeline.EventSocketConnected).Inc()
	}
	return nil
}

// Disconnect is the universal cancellation point, safe in any state.
func (c *Controller) Disconnect() {
	c.teardown(nil, 1000, "client disconnect")
}

// SendText forwards a typed user message over the live socket.
func (c *Controller) SendText(ctx context.Context, text string) error {
	sock, err := c.openSocket()
	if err != nil {
		return err
	}
	return sock.SendUserText(ctx, text)
}

// SpeakAssistant injects assistant speech, e.g. a canned greeting.
func (c *Controller) SpeakAssistant(ctx context.Context, text string) error {
	sock, err := c.openSocket()
	if err != nil {
		return err
	}
	return sock.SendAssistantText(ctx, text)
}

// PauseAssistant tells the provider to hold its turn and flushes queued
// audio so nothing stale plays after resume.
func (c *Controller) PauseAssistant(ctx context.Context) error {
	sock, err := c.openSocket()
	if err != nil {
		return err
	}
	if err := sock.SendPauseAssistant(ctx); err != nil {
		return err
	}
	c.cfg.Player.Clear()
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) ResumeAssistant(ctx context.Context) error {
	sock, err := c.openSocket()
	if err != nil {
		return err
	}
	if err := sock.SendResumeAssistant(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// HandleClipPlay is wired to the playback queue's play event. Starting a
// clip is what makes its transcript visible.
func (c *Controller) HandleClipPlay(clipID string) {
	c.mu.Lock()
	arrived, ok := c.clipArrivals[clipID]
	delete(c.clipArrivals, clipID)
	c.mu.Unlock()

	if c.cfg.Transcript != nil {
		c.cfg.Transcript.CommitClip(clipID)
	}
	if ok {
		if c.cfg.Latency != nil {
			c.cfg.Latency.Observe("transcript_commit", time.Since(arrived))
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObserveCommitLatency(time.Since(arrived))
		}
	}
}

// HandleClipStop is wired to the queue's stop event. A clip discarded
// before playing takes its staged transcript with it.
func (c *Controller) HandleClipStop(clipID string) {
	c.mu.Lock()
	delete(c.clipArrivals, clipID)
	c.mu.Unlock()
	if c.cfg.Transcript != nil {
		c.cfg.Transcript.DropClip(clipID)
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the preserved failure, if the last session ended badly.
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// CallDuration accumulates time spent connected, across calls.
func (c *Controller) CallDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.callDuration
	if c.status == StatusConnected {
		d += time.Since(c.connectedAt)
	}
	return d
}

func (c *Controller) Chat() ChatBinding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

// BindSession names the stored session that committed voice turns persist
// into. Survives reconnects until rebound.
func (c *Controller) BindSession(sessionID string) {
	c.mu.Lock()
	c.boundSession = sessionID
	c.mu.Unlock()
}

func (c *Controller) BoundSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundSession
}

// ConnectionEvents returns call boundaries recorded so far, oldest first.
func (c *Controller) ConnectionEvents() []timeline.ConnectionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]timeline.ConnectionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Controller) openSocket() (Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.socket == nil {
		return nil, newError(ErrKindSocket, "socket is not open", nil)
	}
	return c.socket, nil
}

func (c *Controller) connectFailed(e *Error) error {
	c.mu.Lock()
	c.lastErr = e
	c.status = StatusError
	c.mu.Unlock()
	c.countError(string(e.Kind))
	return e
}

// teardown centralizes disconnect and error paths. errState nil means a
// clean, caller-requested disconnect.
func (c *Controller) teardown(errState *Error, code int, reason string) {
	c.mu.Lock()
	if c.status == StatusDisconnected || c.status == StatusDisconnecting || c.status == StatusError {
		c.mu.Unlock()
		return
	}
	wasConnected := c.status == StatusConnected
	c.status = StatusDisconnecting
	sock := c.socket
	c.socket = nil
	cancel := c.cancel
	c.cancel = nil
	c.paused = false
	c.clipArrivals = make(map[string]time.Time)
	now := time.Now().UTC()
	if wasConnected {
		c.callDuration += now.Sub(c.connectedAt)
		c.events = append(c.events, timeline.ConnectionEvent{
			Kind:   timeline.EventSocketDisconnected,
			Code:   code,
			Reason: reason,
			At:     now,
		})
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock != nil {
		_ = sock.Close()
	}
	c.cfg.Player.Clear()
	_ = c.cfg.Source.Stop()
	if c.cfg.ClearOnDisconnect && c.cfg.Transcript != nil {
		c.cfg.Transcript.Clear()
	}

	c.mu.Lock()
	if errState != nil {
		c.lastErr = errState
		c.status = StatusError
	} else {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()

	if m := c.cfg.Metrics; m != nil && wasConnected {
		m.ActiveConnections.Dec()
		m.ConnectionEvents.WithLabelValues(timeline.EventSocketDisconnected).Inc()
	}
	if errState != nil {
		c.countError(string(errState.Kind))
	}
}

func (c *Controller) eventLoop(sock Socket, events <-chan any) {
	for ev := range events {
		switch msg := ev.(type) {
		case protocol.AssistantMessage:
			c.countFrame("inbound", string(protocol.TypeAssistantMessage))
			c.onAssistantMessage(msg)
		case protocol.UserMessage:
			c.countFrame("inbound", string(protocol.TypeUserMessage))
			c.onUserMessage(msg)
		case protocol.AudioOutput:
			c.countFrame("inbound", string(protocol.TypeAudioOutput))
			c.onAudioOutput(msg)
		case protocol.UserInterruption:
			c.countFrame("inbound", string(protocol.TypeUserInterruption))
			if c.cfg.Transcript != nil {
				c.cfg.Transcript.Interrupt()
			} else {
				c.cfg.Player.Clear()
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.Interruptions.Inc()
			}
		case protocol.ChatMetadata:
			c.mu.Lock()
			c.chat = ChatBinding{ChatID: msg.ChatID, ChatGroupID: msg.ChatGroupID}
			c.mu.Unlock()
		case protocol.ToolCall:
			c.onToolCall(sock, msg)
		case protocol.ToolError:
			c.countError("tool_" + msg.Code)
		case protocol.ErrorMessage:
			c.teardown(newError(ErrKindSocket, "provider error: "+msg.Message, nil), 1011, msg.Slug)
		case evi.Closed:
			c.onClosed(msg)
		}
	}
}

func (c *Controller) onAssistantMessage(msg protocol.AssistantMessage) {
	if c.cfg.Transcript == nil {
		return
	}
	if msg.ID != "" {
		c.mu.Lock()
		c.clipArrivals[msg.ID] = time.Now()
		c.mu.Unlock()
	}
	c.cfg.Transcript.AddAssistantTranscript(msg.ID, transcript.Message{
		Role:      msg.Message.Role,
		Content:   msg.Message.Content,
		Prosody:   msg.Models.Scores(),
		FromText:  msg.FromText,
		CreatedAt: timeFromMS(msg.TimeMS),
	})
}

func (c *Controller) onUserMessage(msg protocol.UserMessage) {
	if c.cfg.Transcript == nil {
		return
	}
	c.cfg.Transcript.AddUserTranscript(transcript.Message{
		Role:      msg.Message.Role,
		Content:   msg.Message.Content,
		Prosody:   msg.Models.Scores(),
		FromText:  msg.FromText,
		CreatedAt: timeFromMS(msg.TimeMS),
	}, msg.Interim)
}

func (c *Controller) onAudioOutput(msg protocol.AudioOutput) {
	data, err := base64.StdEncoding.DecodeString(msg.DataBase64)
	if err != nil {
		// A single bad clip is not worth the whole session.
		c.countError("audio_decode")
		return
	}
	pcm, sampleRate := decodeClipAudio(data, msg.SampleRate)
	c.cfg.Player.Add(audio.Clip{ID: msg.ID, PCM: pcm, SampleRate: sampleRate})
}

func (c *Controller) onToolCall(sock Socket, msg protocol.ToolCall) {
	if c.cfg.OnToolCall == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		content, err := c.cfg.OnToolCall(ctx, msg.Name, msg.Parameters)
		if err != nil {
			c.countError("tool_handler")
			return
		}
		if err := sock.SendToolResponse(ctx, msg.ToolCallID, content); err != nil {
			c.countError("tool_response_send")
		}
	}()
}

func (c *Controller) onClosed(closed evi.Closed) {
	c.mu.Lock()
	initiated := c.status == StatusDisconnecting || c.status == StatusDisconnected
	c.mu.Unlock()
	if initiated {
		return
	}
	c.teardown(newError(ErrKindSocket, "connection closed unexpectedly", nil), closed.Code, closed.Reason)
}

func (c *Controller) capturePump(ctx context.Context, frames <-chan audio.Frame, sock Socket) {
	for frame := range frames {
		if ctx.Err() != nil {
			return
		}
		if err := sock.SendAudio(ctx, base64.StdEncoding.EncodeToString(frame.PCM)); err != nil {
			if c.Status() == StatusConnected {
				c.teardown(newError(ErrKindSocket, "audio send failed", err), 1006, "")
			}
			return
		}
		c.countFrame("outbound", string(protocol.TypeAudioInput))
	}
}

func (c *Controller) countFrame(direction, frameType string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Frames.WithLabelValues(direction, frameType).Inc()
	}
}

func (c *Controller) countError(code string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ComponentErrors.WithLabelValues("voice", code).Inc()
	}
}

// decodeClipAudio accepts either a WAV container or raw PCM16LE bytes.
func decodeClipAudio(data []byte, declaredRate int) ([]byte, int) {
	if bytes.HasPrefix(data, []byte("RIFF")) {
		if pcm, rate, err := audio.DecodeWAVPCM16LE(bytes.NewReader(data)); err == nil {
			return pcm, rate
		}
	}
	if declaredRate <= 0 {
		declaredRate = 16000
	}
	return data, declaredRate
}

func timeFromMS(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
