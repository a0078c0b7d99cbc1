package realtime

// Outbound event type tags.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
)

// SessionUpdate configures the session right after the handshake: modalities,
// instructions, voice, audio formats, transcription model and server-side
// turn detection.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session payload of a session.update event.
type SessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
}

// AudioTranscription selects the model transcribing user speech.
type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection holds the server-side voice-activity-detection parameters.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// NewSessionUpdate builds a session.update event around cfg, pinning both
// audio formats to pcm16.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	cfg.InputAudioFormat = "pcm16"
	cfg.OutputAudioFormat = "pcm16"
	if len(cfg.Modalities) == 0 {
		cfg.Modalities = []string{"text", "audio"}
	}
	return SessionUpdate{Type: TypeSessionUpdate, Session: cfg}
}

// AudioAppend streams one base64 PCM16 frame of microphone audio to the
// service's input buffer.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend wraps an already base64-encoded audio frame.
func NewAudioAppend(base64Audio string) AudioAppend {
	return AudioAppend{Type: TypeInputAudioAppend, Audio: base64Audio}
}
