package voice

import "fmt"

// ErrorKind classifies connection-level failures. Exactly one kind is
// active at a time; a new error always tears the session down.
type ErrorKind string

const (
	// ErrKindMic covers permission and capture-device failures. Terminal for
	// the current connect attempt.
	ErrKindMic ErrorKind = "mic_error"
	// ErrKindSocket covers handshake and mid-session transport failures.
	ErrKindSocket ErrorKind = "socket_error"
	// ErrKindAudio covers playback and decoding failures.
	ErrKindAudio ErrorKind = "audio_error"
)

// Error is the controller's unified error state, preserved after teardown
// so callers can distinguish "disconnected" from "disconnected because X".
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
