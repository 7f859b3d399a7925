package evi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nvasile/amica/internal/protocol"
)

// Closed is delivered as the final event on the session channel once the
// underlying websocket is gone, whatever side initiated it.
type Closed struct {
	Code   int
	Reason string
}

var ErrNotConnected = errors.New("evi session is not connected")

type Config struct {
	APIKey         string
	WSBaseURL      string
	ConfigID       string
	ConnectTimeout time.Duration
}

// Provider dials empathic-voice sessions. One Provider serves any number of
// sequential or concurrent sessions.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.hume.ai"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &Provider{cfg: cfg}
}

// Connect dials a voice session. The returned channel yields decoded
// provider frames and ends with exactly one Closed value.
func (p *Provider) Connect(ctx context.Context) (*Session, <-chan any, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v0/evi/chat")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	if p.cfg.ConfigID != "" {
		q.Set("config_id", p.cfg.ConfigID)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-Hume-Api-Key", p.cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial evi websocket: %w", err)
	}

	events := make(chan any, 256)
	s := &Session{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

// Session is one live websocket conversation. Writes are serialized; reads
// happen on the session's own goroutine and surface through the event
// channel handed out by Connect.
type Session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan any

	stateM sync.Mutex
	closed bool
}

func (s *Session) SendAudio(_ context.Context, audioBase64 string) error {
	return s.writeJSON(protocol.AudioInput{Type: protocol.TypeAudioInput, DataBase64: audioBase64})
}

func (s *Session) SendUserText(_ context.Context, text string) error {
	return s.writeJSON(protocol.UserInput{Type: protocol.TypeUserInput, Text: text})
}

func (s *Session) SendAssistantText(_ context.Context, text string) error {
	return s.writeJSON(protocol.AssistantInput{Type: protocol.TypeAssistantInput, Text: text})
}

func (s *Session) SendSessionSettings(_ context.Context, systemPrompt string, variables map[string]string) error {
	return s.writeJSON(protocol.SessionSettings{
		Type:         protocol.TypeSessionSettings,
		SystemPrompt: systemPrompt,
		Variables:    variables,
	})
}

func (s *Session) SendPauseAssistant(_ context.Context) error {
	return s.writeJSON(protocol.PauseAssistant{Type: protocol.TypePauseAssistant})
}

func (s *Session) SendResumeAssistant(_ context.Context) error {
	return s.writeJSON(protocol.ResumeAssistant{Type: protocol.TypeResumeAssistant})
}

func (s *Session) SendToolResponse(_ context.Context, toolCallID, content string) error {
	return s.writeJSON(protocol.ToolResponse{
		Type:       protocol.TypeToolResponse,
		ToolCallID: toolCallID,
		Content:    content,
	})
}

func (s *Session) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		s.setClosed()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *Session) writeJSON(payload any) error {
	if s.isClosed() {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *Session) readLoop() {
	closeCode := websocket.CloseAbnormalClosure
	closeReason := ""
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closeCode = ce.Code
				closeReason = ce.Text
			} else if s.isClosed() {
				closeCode = websocket.CloseNormalClosure
			}
			break
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			// Unknown frame kinds are forward-compatibility, not failures.
			continue
		}
		s.events <- msg
	}

	s.setClosed()
	_ = s.conn.Close()
	s.events <- Closed{Code: closeCode, Reason: closeReason}
	close(s.events)
}

func (s *Session) isClosed() bool {
	s.stateM.Lock()
	defer s.stateM.Unlock()
	return s.closed
}

func (s *Session) setClosed() {
	s.stateM.Lock()
	s.closed = true
	s.stateM.Unlock()
}
