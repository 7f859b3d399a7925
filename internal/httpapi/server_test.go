package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nvasile/amica/internal/audio"
	"github.com/nvasile/amica/internal/chat"
	"github.com/nvasile/amica/internal/completion"
	"github.com/nvasile/amica/internal/config"
	"github.com/nvasile/amica/internal/emotion"
	"github.com/nvasile/amica/internal/evi"
	"github.com/nvasile/amica/internal/store"
	"github.com/nvasile/amica/internal/transcript"
	"github.com/nvasile/amica/internal/voice"
)

type nullSocket struct{ events chan any }

func (n *nullSocket) SendAudio(context.Context, string) error         { return nil }
func (n *nullSocket) SendUserText(context.Context, string) error      { return nil }
func (n *nullSocket) SendAssistantText(context.Context, string) error { return nil }
func (n *nullSocket) SendSessionSettings(context.Context, string, map[string]string) error {
	return nil
}
func (n *nullSocket) SendPauseAssistant(context.Context) error  { return nil }
func (n *nullSocket) SendResumeAssistant(context.Context) error { return nil }
func (n *nullSocket) SendToolResponse(context.Context, string, string) error {
	return nil
}
func (n *nullSocket) Close() error {
	select {
	case n.events <- evi.Closed{Code: 1000}:
	default:
	}
	close(n.events)
	return nil
}

type nullSource struct{ frames chan audio.Frame }

func (s *nullSource) Start(context.Context) (<-chan audio.Frame, error) { return s.frames, nil }
func (s *nullSource) Stop() error                                      { return nil }

type nullPlayer struct{}

func (nullPlayer) Add(audio.Clip)  {}
func (nullPlayer) Clear()          {}
func (nullPlayer) SetMuted(bool)   {}
func (nullPlayer) IsPlaying() bool { return false }

type apiHarness struct {
	srv   *httptest.Server
	store store.Store
	trans *transcript.Store
	ctrl  *voice.Controller
	token string
}

func newAPIHarness(t *testing.T, completionReply string) *apiHarness {
	return newAPIHarnessCfg(t, completionReply, nil)
}

func newAPIHarnessCfg(t *testing.T, completionReply string, mutate func(*config.Config)) *apiHarness {
	t.Helper()

	st := store.NewInMemoryStore()
	trans := transcript.NewStore(transcript.Config{})
	trans.BindPlayer(nullPlayer{})

	compSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, piece := range strings.SplitAfter(completionReply, " ") {
			chunk := completion.Chunk{Choices: []completion.Choice{{Delta: completion.Delta{Content: piece}}}}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(compSrv.Close)

	comp := completion.NewClient(completion.Config{BaseURL: compSrv.URL, Model: "test"})
	emo := emotion.NewClient(emotion.Config{})
	chatSvc := chat.NewService(chat.Config{SystemPrompt: "be kind"}, st, comp, emo, nil)

	ctrl := voice.NewController(voice.Config{
		Dial: func(context.Context) (voice.Socket, <-chan any, error) {
			sock := &nullSocket{events: make(chan any, 8)}
			return sock, sock.events, nil
		},
		Source:     &nullSource{frames: make(chan audio.Frame)},
		Player:     nullPlayer{},
		Transcript: trans,
	})
	t.Cleanup(ctrl.Disconnect)

	cfg := config.Config{APIAuthToken: "secret", MergeMaxMessages: 50}
	if mutate != nil {
		mutate(&cfg)
	}
	server := New(cfg, st, nil, chatSvc, ctrl, trans, nil, nil)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, store: st, trans: trans, ctrl: ctrl, token: "secret"}
}

func (h *apiHarness) request(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	if user != "" {
		req.Header.Set("X-Amica-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAuthRequiresIdentityAndToken(t *testing.T) {
	h := newAPIHarness(t, "ok")

	resp := h.request(t, http.MethodGet, "/v1/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing identity status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("X-Amica-User", "u1")
	badResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", badResp.StatusCode)
	}

	good := h.request(t, http.MethodGet, "/v1/sessions", "u1", nil)
	if good.StatusCode != http.StatusOK {
		t.Fatalf("authorized status = %d, want 200", good.StatusCode)
	}
}

func TestHealthEndpointsAreOpen(t *testing.T) {
	h := newAPIHarness(t, "ok")
	resp, err := http.Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestAllowAnyOriginAnswersPreflight(t *testing.T) {
	h := newAPIHarnessCfg(t, "ok", func(cfg *config.Config) {
		cfg.AllowAnyOrigin = true
	})

	req, _ := http.NewRequest(http.MethodOptions, h.srv.URL+"/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}

	// Regular responses carry the header too.
	health, err := http.Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer health.Body.Close()
	if got := health.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("healthz Access-Control-Allow-Origin = %q, want *", got)
	}

	// The knob stays off by default.
	plain := newAPIHarness(t, "ok")
	off, err := http.Get(plain.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer off.Body.Close()
	if off.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("CORS header present without AMICA_ALLOW_ANY_ORIGIN")
	}
}

func TestSessionCRUD(t *testing.T) {
	h := newAPIHarness(t, "ok")

	created := decodeBody[sessionResponse](t, h.request(t, http.MethodPost, "/v1/sessions", "u1",
		map[string]string{"title": "First"}))
	if created.ID == "" || created.Title != "First" {
		t.Fatalf("create response = %+v", created)
	}

	list := decodeBody[[]sessionResponse](t, h.request(t, http.MethodGet, "/v1/sessions", "u1", nil))
	if len(list) != 1 {
		t.Fatalf("sessions = %d, want 1", len(list))
	}

	updated := decodeBody[sessionResponse](t, h.request(t, http.MethodPut, "/v1/sessions/"+created.ID, "u1",
		map[string]string{"title": "Renamed"}))
	if updated.Title != "Renamed" {
		t.Fatalf("updated title = %q", updated.Title)
	}

	// Another user cannot see or touch the session.
	foreign := h.request(t, http.MethodGet, "/v1/sessions/"+created.ID+"/messages", "u2", nil)
	if foreign.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign access status = %d, want 404", foreign.StatusCode)
	}

	del := h.request(t, http.MethodDelete, "/v1/sessions/"+created.ID, "u1", nil)
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", del.StatusCode)
	}
	gone := h.request(t, http.MethodGet, "/v1/sessions/"+created.ID+"/messages", "u1", nil)
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session status = %d, want 404", gone.StatusCode)
	}
}

func TestMessageAppendAndList(t *testing.T) {
	h := newAPIHarness(t, "ok")
	created := decodeBody[sessionResponse](t, h.request(t, http.MethodPost, "/v1/sessions", "u1", nil))

	appended := h.request(t, http.MethodPost, "/v1/sessions/"+created.ID+"/messages", "u1",
		map[string]any{"role": "user", "content": "hello", "prosody": map[string]float64{"Joy": 0.5}})
	if appended.StatusCode != http.StatusCreated {
		t.Fatalf("append status = %d, want 201", appended.StatusCode)
	}

	bad := h.request(t, http.MethodPost, "/v1/sessions/"+created.ID+"/messages", "u1",
		map[string]any{"role": "robot", "content": "hello"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid role status = %d, want 400", bad.StatusCode)
	}

	msgs := decodeBody[[]messageResponse](t, h.request(t, http.MethodGet, "/v1/sessions/"+created.ID+"/messages", "u1", nil))
	if len(msgs) != 1 || msgs[0].Prosody["Joy"] != 0.5 {
		t.Fatalf("messages = %+v, want one with prosody", msgs)
	}
}

func TestChatStreamsSSE(t *testing.T) {
	h := newAPIHarness(t, "Hi there friend")
	created := decodeBody[sessionResponse](t, h.request(t, http.MethodPost, "/v1/sessions", "u1", nil))

	resp := h.request(t, http.MethodPost, "/v1/sessions/"+created.ID+"/chat", "u1",
		map[string]string{"text": "Hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "data: ") || !strings.HasSuffix(strings.TrimSpace(text), "data: [DONE]") {
		t.Fatalf("stream = %q, want data lines ending with DONE", text)
	}

	// Both turns must be persisted by the time the stream finishes.
	msgs := decodeBody[[]messageResponse](t, h.request(t, http.MethodGet, "/v1/sessions/"+created.ID+"/messages", "u1", nil))
	if len(msgs) != 2 || msgs[1].Content != "Hi there friend" {
		t.Fatalf("persisted messages = %+v, want user+assistant", msgs)
	}
}

func TestTimelineMergesRemoteAndLive(t *testing.T) {
	h := newAPIHarness(t, "ok")
	created := decodeBody[sessionResponse](t, h.request(t, http.MethodPost, "/v1/sessions", "u1", nil))

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	_ = h.store.AppendMessage(context.Background(), store.StoredMessage{
		ID: "m1", SessionID: created.ID, Role: "user", Content: "hi", CreatedAt: base,
	})

	// The live transcript carries the same message enriched with prosody,
	// plus a newer assistant line.
	h.ctrl.BindSession(created.ID)
	h.trans.AddUserTranscript(transcript.Message{
		Role: "user", Content: "hi", Prosody: map[string]float64{"Joy": 0.9}, CreatedAt: base,
	}, false)
	h.trans.AddAssistantTranscript("", transcript.Message{
		Role: "assistant", Content: "hello!", CreatedAt: base.Add(5 * time.Second),
	})

	entries := decodeBody[[]map[string]any](t, h.request(t, http.MethodGet,
		"/v1/sessions/"+created.ID+"/timeline", "u1", nil))

	var messages []map[string]any
	for _, e := range entries {
		if e["kind"] == "message" {
			messages = append(messages, e)
		}
	}
	if len(messages) != 2 {
		t.Fatalf("timeline messages = %d, want 2 after dedup", len(messages))
	}
	if messages[0]["content"] != "hi" || messages[0]["prosody"] == nil {
		t.Fatalf("first message = %+v, want live copy with prosody", messages[0])
	}
	if messages[1]["content"] != "hello!" {
		t.Fatalf("second message = %+v", messages[1])
	}
}

func TestVoiceStatusAndLifecycle(t *testing.T) {
	h := newAPIHarness(t, "ok")
	created := decodeBody[sessionResponse](t, h.request(t, http.MethodPost, "/v1/sessions", "u1", nil))

	status := decodeBody[voiceStatusResponse](t, h.request(t, http.MethodGet, "/v1/voice/status", "u1", nil))
	if status.Status != string(voice.StatusDisconnected) {
		t.Fatalf("initial status = %q, want disconnected", status.Status)
	}

	connected := decodeBody[voiceStatusResponse](t, h.request(t, http.MethodPost, "/v1/voice/connect", "u1",
		map[string]string{"session_id": created.ID}))
	if connected.Status != string(voice.StatusConnected) {
		t.Fatalf("status after connect = %q, want connected", connected.Status)
	}
	if connected.BoundSessionID != created.ID {
		t.Fatalf("bound session = %q, want %q", connected.BoundSessionID, created.ID)
	}

	// Text through the live socket requires a connection; it has one now.
	sent := h.request(t, http.MethodPost, "/v1/voice/text", "u1", map[string]string{"text": "hi"})
	if sent.StatusCode != http.StatusAccepted {
		t.Fatalf("voice text status = %d, want 202", sent.StatusCode)
	}

	disconnected := decodeBody[voiceStatusResponse](t, h.request(t, http.MethodPost, "/v1/voice/disconnect", "u1", nil))
	if disconnected.Status != string(voice.StatusDisconnected) {
		t.Fatalf("status after disconnect = %q, want disconnected", disconnected.Status)
	}
}

func TestVoiceConnectUnknownSession(t *testing.T) {
	h := newAPIHarness(t, "ok")
	resp := h.request(t, http.MethodPost, "/v1/voice/connect", "u1",
		map[string]string{"session_id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("connect to unknown session status = %d, want 404", resp.StatusCode)
	}
}
