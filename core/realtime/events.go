// Package realtime implements the JSON event protocol spoken with the
// realtime speech service over a persistent websocket: outbound session
// configuration and audio appends, and the closed set of inbound server
// events the session reacts to.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event type tags.
const (
	TypeSessionCreated               = "session.created"
	TypeInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeResponseAudioDelta           = "response.audio.delta"
	TypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  = "response.audio_transcript.done"
	TypeResponseTextDelta            = "response.text.delta"
	TypeResponseTextDone             = "response.text.done"
	TypeConversationItemTruncated    = "conversation.item.truncated"
	TypeError                        = "error"
)

// ErrProtocol marks a single malformed inbound message. The event is dropped;
// the connection stays up.
var ErrProtocol = errors.New("malformed realtime event")

// ServerEvent is implemented by every parsed inbound event.
type ServerEvent interface {
	EventType() string
}

// SessionCreated confirms the service accepted the connection.
type SessionCreated struct{}

func (SessionCreated) EventType() string { return TypeSessionCreated }

// InputTranscriptionCompleted carries the finished transcript of one user
// turn. It arrives complete; no delta accumulation is involved.
type InputTranscriptionCompleted struct {
	Transcript string
}

func (InputTranscriptionCompleted) EventType() string { return TypeInputTranscriptionCompleted }

// AudioDelta carries one base64 PCM16 chunk of synthesized assistant speech.
type AudioDelta struct {
	Audio string
}

func (AudioDelta) EventType() string { return TypeResponseAudioDelta }

// AudioTranscriptDelta is an incremental fragment of the transcript of
// assistant speech.
type AudioTranscriptDelta struct {
	Delta string
}

func (AudioTranscriptDelta) EventType() string { return TypeResponseAudioTranscriptDelta }

// AudioTranscriptDone ends an assistant speech transcript. Transcript holds
// the service's own full rendition of the utterance.
type AudioTranscriptDone struct {
	Transcript string
}

func (AudioTranscriptDone) EventType() string { return TypeResponseAudioTranscriptDone }

// TextDelta is an incremental fragment of a text-modality reply.
type TextDelta struct {
	Delta string
}

func (TextDelta) EventType() string { return TypeResponseTextDelta }

// TextDone ends a text-modality reply.
type TextDone struct {
	Text string
}

func (TextDone) EventType() string { return TypeResponseTextDone }

// Interrupted signals that the user barged in and the in-flight assistant
// utterance was truncated server-side.
type Interrupted struct{}

func (Interrupted) EventType() string { return TypeConversationItemTruncated }

// ServerError is an error reported by the service inside the event stream.
type ServerError struct {
	Code    string
	Message string
}

func (ServerError) EventType() string { return TypeError }

// Fatal reports whether the session cannot continue after this error.
func (e ServerError) Fatal() bool {
	switch e.Code {
	case "session_expired", "session_not_found":
		return true
	}
	return false
}

// Unknown is the catch-all for event types this client does not consume.
// Unknown types are ignored rather than treated as errors so newer service
// versions do not break the session.
type Unknown struct {
	Type string
}

func (e Unknown) EventType() string { return e.Type }

// ParseEvent maps one wire message to a typed event. The type tag is read
// first and drives dispatch; a missing or unreadable tag, or a malformed
// payload for a known type, yields an error wrapping ErrProtocol.
func ParseEvent(message []byte) (ServerEvent, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &tag); err != nil {
		return nil, fmt.Errorf("%w: unreadable type tag: %v", ErrProtocol, err)
	}
	if tag.Type == "" {
		return nil, fmt.Errorf("%w: missing type tag", ErrProtocol)
	}

	switch tag.Type {
	case TypeSessionCreated:
		return SessionCreated{}, nil

	case TypeInputTranscriptionCompleted:
		var payload struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return InputTranscriptionCompleted{Transcript: payload.Transcript}, nil

	case TypeResponseAudioDelta:
		var payload struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return AudioDelta{Audio: payload.Delta}, nil

	case TypeResponseAudioTranscriptDelta:
		var payload struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return AudioTranscriptDelta{Delta: payload.Delta}, nil

	case TypeResponseAudioTranscriptDone:
		var payload struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return AudioTranscriptDone{Transcript: payload.Transcript}, nil

	case TypeResponseTextDelta:
		var payload struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return TextDelta{Delta: payload.Delta}, nil

	case TypeResponseTextDone:
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return TextDone{Text: payload.Text}, nil

	case TypeConversationItemTruncated:
		return Interrupted{}, nil

	case TypeError:
		var payload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			return nil, malformed(tag.Type, err)
		}
		return ServerError{Code: payload.Error.Code, Message: payload.Error.Message}, nil

	default:
		return Unknown{Type: tag.Type}, nil
	}
}

func malformed(eventType string, err error) error {
	return fmt.Errorf("%w: malformed %s payload: %v", ErrProtocol, eventType, err)
}
