package protocol

import (
	"errors"
	"testing"
)

func TestParseServerMessageAssistantMessage(t *testing.T) {
	raw := []byte(`{"type":"assistant_message","id":"clip-1","message":{"role":"assistant","content":"Hi there"},"models":{"prosody":{"scores":{"Joy":0.82}}}}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}

	assistant, ok := msg.(AssistantMessage)
	if !ok {
		t.Fatalf("message type = %T, want AssistantMessage", msg)
	}
	if assistant.ID != "clip-1" || assistant.Message.Content != "Hi there" {
		t.Fatalf("unexpected assistant message: %+v", assistant)
	}
	if got := assistant.Models.Scores()["Joy"]; got != 0.82 {
		t.Fatalf("prosody Joy = %v, want 0.82", got)
	}
}

func TestParseServerMessageUserMessageInterim(t *testing.T) {
	raw := []byte(`{"type":"user_message","message":{"role":"user","content":"hel"},"interim":true}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}

	user, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if !user.Interim {
		t.Fatalf("Interim = false, want true")
	}
	if user.Models.Scores() != nil {
		t.Fatalf("Scores() = %v, want nil when prosody absent", user.Models.Scores())
	}
}

func TestParseServerMessageAudioOutput(t *testing.T) {
	raw := []byte(`{"type":"audio_output","id":"clip-1","index":0,"data":"AQID"}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	audio, ok := msg.(AudioOutput)
	if !ok {
		t.Fatalf("message type = %T, want AudioOutput", msg)
	}
	if audio.ID != "clip-1" || audio.DataBase64 != "AQID" {
		t.Fatalf("unexpected audio output: %+v", audio)
	}
}

func TestParseServerMessageRejectsAudioOutputWithoutClipID(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"audio_output","data":"AQID"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseServerMessageToolCall(t *testing.T) {
	raw := []byte(`{"type":"tool_call","tool_call_id":"t1","name":"weather","parameters":{"city":"Turin"}}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	call, ok := msg.(ToolCall)
	if !ok {
		t.Fatalf("message type = %T, want ToolCall", msg)
	}
	if call.Name != "weather" {
		t.Fatalf("Name = %q, want %q", call.Name, "weather")
	}
}

func TestParseServerMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerMessageChatMetadata(t *testing.T) {
	raw := []byte(`{"type":"chat_metadata","chat_id":"c1","chat_group_id":"g1"}`)
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage() error = %v", err)
	}
	meta, ok := msg.(ChatMetadata)
	if !ok {
		t.Fatalf("message type = %T, want ChatMetadata", msg)
	}
	if meta.ChatID != "c1" || meta.ChatGroupID != "g1" {
		t.Fatalf("unexpected chat metadata: %+v", meta)
	}
}

func BenchmarkParseServerMessageAudioOutput(b *testing.B) {
	raw := []byte(`{"type":"audio_output","id":"clip-9","index":3,"data":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseServerMessage(raw)
		if err != nil {
			b.Fatalf("ParseServerMessage() error = %v", err)
		}
		if _, ok := msg.(AudioOutput); !ok {
			b.Fatalf("message type = %T, want AudioOutput", msg)
		}
	}
}
