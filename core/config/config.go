// Package config loads the application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/koscakluka/voicechat/core/audio"
)

// Audio backend names accepted by VOICECHAT_AUDIO_BACKEND.
const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"
)

// Config holds everything the session and the request-response pipeline need.
// The API key is the only required value.
type Config struct {
	APIKey string

	// RealtimeModel drives live conversations; the remaining models serve the
	// single-shot transcribe/respond/speak flow.
	RealtimeModel      string
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string

	Voice        string
	Instructions string

	AudioBackend string
	FrameSize    int

	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int

	// IdleTimeout is how long the session tolerates total server silence
	// while active before reporting a liveness problem.
	IdleTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present. Fails when no API key is configured:
// credential absence is a startup-time failure, not something discovered on
// first use.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		RealtimeModel:      envString("VOICECHAT_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		ChatModel:          envString("VOICECHAT_CHAT_MODEL", "gpt-4o"),
		TranscriptionModel: envString("VOICECHAT_TRANSCRIPTION_MODEL", "whisper-1"),
		SpeechModel:        envString("VOICECHAT_SPEECH_MODEL", "tts-1"),

		Voice:        envString("VOICECHAT_VOICE", "alloy"),
		Instructions: envString("VOICECHAT_INSTRUCTIONS", ""),

		AudioBackend: envString("VOICECHAT_AUDIO_BACKEND", BackendPortAudio),
		FrameSize:    envInt("VOICECHAT_FRAME_SIZE", audio.DefaultFrameSize),

		VADThreshold:         envFloat("VOICECHAT_VAD_THRESHOLD", 0.5),
		VADPrefixPaddingMS:   envInt("VOICECHAT_VAD_PREFIX_PADDING_MS", 300),
		VADSilenceDurationMS: envInt("VOICECHAT_VAD_SILENCE_DURATION_MS", 500),

		IdleTimeout: envDuration("VOICECHAT_IDLE_TIMEOUT", 30*time.Second),
	}

	apiKey, ok := os.LookupEnv("OPENAI_API_KEY")
	if !ok || apiKey == "" {
		return cfg, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	cfg.APIKey = apiKey

	if cfg.AudioBackend != BackendPortAudio && cfg.AudioBackend != BackendMiniaudio {
		return cfg, fmt.Errorf("unknown audio backend %q", cfg.AudioBackend)
	}
	if cfg.FrameSize <= 0 {
		return cfg, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}

	return cfg, nil
}

func envString(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(name string, fallback float64) float64 {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(name string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
