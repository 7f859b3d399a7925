package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies EVI websocket payload variants.
type MessageType string

const (
	// Outbound (client -> provider).
	TypeAudioInput      MessageType = "audio_input"
	TypeUserInput       MessageType = "user_input"
	TypeAssistantInput  MessageType = "assistant_input"
	TypeSessionSettings MessageType = "session_settings"
	TypePauseAssistant  MessageType = "pause_assistant_message"
	TypeResumeAssistant MessageType = "resume_assistant_message"

	// Inbound (provider -> client).
	TypeUserMessage      MessageType = "user_message"
	TypeAssistantMessage MessageType = "assistant_message"
	TypeAudioOutput      MessageType = "audio_output"
	TypeUserInterruption MessageType = "user_interruption"
	TypeToolCall         MessageType = "tool_call"
	TypeToolResponse     MessageType = "tool_response"
	TypeToolError        MessageType = "tool_error"
	TypeChatMetadata     MessageType = "chat_metadata"
	TypeError            MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatText is the role/content pair carried by transcript frames.
type ChatText struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Inference carries per-utterance model outputs attached to a transcript.
type Inference struct {
	Prosody *ProsodyScores `json:"prosody,omitempty"`
}

// ProsodyScores maps emotion names to intensities in [0,1].
type ProsodyScores struct {
	Scores map[string]float64 `json:"scores"`
}

// Scores returns the prosody score map on a transcript frame, or nil.
func (i Inference) Scores() map[string]float64 {
	if i.Prosody == nil {
		return nil
	}
	return i.Prosody.Scores
}

type UserMessage struct {
	Type     MessageType `json:"type"`
	Message  ChatText    `json:"message"`
	Models   Inference   `json:"models"`
	Interim  bool        `json:"interim"`
	FromText bool        `json:"from_text"`
	TimeMS   int64       `json:"time_ms,omitempty"`
}

type AssistantMessage struct {
	// ID correlates this transcript with the audio_output clip that voices it.
	ID       string      `json:"id"`
	Type     MessageType `json:"type"`
	Message  ChatText    `json:"message"`
	Models   Inference   `json:"models"`
	FromText bool        `json:"from_text"`
	TimeMS   int64       `json:"time_ms,omitempty"`
}

type AudioOutput struct {
	Type        MessageType `json:"type"`
	ID          string      `json:"id"`
	Index       int         `json:"index"`
	DataBase64  string      `json:"data"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	NumChannels int         `json:"num_channels,omitempty"`
}

type UserInterruption struct {
	Type   MessageType `json:"type"`
	TimeMS int64       `json:"time_ms,omitempty"`
}

type ToolCall struct {
	Type       MessageType     `json:"type"`
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

type ToolResponse struct {
	Type       MessageType `json:"type"`
	ToolCallID string      `json:"tool_call_id"`
	Content    string      `json:"content"`
}

type ToolError struct {
	Type       MessageType `json:"type"`
	ToolCallID string      `json:"tool_call_id"`
	Code       string      `json:"code"`
	Detail     string      `json:"error"`
}

type ChatMetadata struct {
	Type        MessageType `json:"type"`
	ChatID      string      `json:"chat_id"`
	ChatGroupID string      `json:"chat_group_id"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Slug    string      `json:"slug"`
	Message string      `json:"message"`
}

type AudioInput struct {
	Type       MessageType `json:"type"`
	DataBase64 string      `json:"data"`
}

type UserInput struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AssistantInput struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type SessionSettings struct {
	Type         MessageType       `json:"type"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

type PauseAssistant struct {
	Type MessageType `json:"type"`
}

type ResumeAssistant struct {
	Type MessageType `json:"type"`
}

// ParseServerMessage decodes one inbound frame into its typed variant.
// Frame kinds the client does not consume return ErrUnsupportedType.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Message.Role == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypeAssistantMessage:
		var msg AssistantMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Message.Role == "" {
			return nil, errors.New("invalid assistant_message")
		}
		return msg, nil
	case TypeAudioOutput:
		var msg AudioOutput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" || msg.DataBase64 == "" {
			return nil, errors.New("invalid audio_output")
		}
		return msg, nil
	case TypeUserInterruption:
		var msg UserInterruption
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeToolCall:
		var msg ToolCall
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ToolCallID == "" || msg.Name == "" {
			return nil, errors.New("invalid tool_call")
		}
		return msg, nil
	case TypeToolResponse:
		var msg ToolResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ToolCallID == "" {
			return nil, errors.New("invalid tool_response")
		}
		return msg, nil
	case TypeToolError:
		var msg ToolError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ToolCallID == "" {
			return nil, errors.New("invalid tool_error")
		}
		return msg, nil
	case TypeChatMetadata:
		var msg ChatMetadata
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
