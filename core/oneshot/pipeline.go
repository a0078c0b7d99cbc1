// Package oneshot implements the non-realtime conversation flow: transcribe a
// recorded message, generate a reply over the full history, and synthesize
// the reply as speech. No streaming is involved; every step is one
// request-response call.
package oneshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"

	session "github.com/koscakluka/voicechat/core"
	"github.com/koscakluka/voicechat/core/config"
)

// Exchange is the outcome of one turn: what the user said, what the
// assistant replied, and the reply rendered as PCM16 audio.
type Exchange struct {
	UserText      string
	AssistantText string
	Speech        []byte
}

// Pipeline holds the API client and model selection for the single-shot flow.
type Pipeline struct {
	client openai.Client

	chatModel          string
	transcriptionModel string
	speechModel        string
	voice              string
}

// New builds a pipeline from cfg.
func New(cfg config.Config) *Pipeline {
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	return &Pipeline{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(httpClient),
		),
		chatModel:          cfg.ChatModel,
		transcriptionModel: cfg.TranscriptionModel,
		speechModel:        cfg.SpeechModel,
		voice:              cfg.Voice,
	}
}

// Run takes one recorded user message (as a WAV payload) and the conversation
// so far, and produces the completed exchange.
func (p *Pipeline) Run(ctx context.Context, wav []byte, history []session.Entry) (*Exchange, error) {
	ctx, span := tracer.Start(ctx, "oneshot.run")
	defer span.End()

	userText, err := p.Transcribe(ctx, wav)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	assistantText, err := p.Respond(ctx, history, userText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	speech, err := p.Synthesize(ctx, assistantText)
	if err != nil {
		// The reply text is still worth keeping; surface it without audio.
		logger.Warn("speech synthesis failed", "error", err)
		speech = nil
	}

	return &Exchange{UserText: userText, AssistantText: assistantText, Speech: speech}, nil
}

// Transcribe turns recorded speech into text.
func (p *Pipeline) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(p.transcriptionModel),
		File:  openai.File(bytes.NewReader(wav), "recording.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe recording: %w", err)
	}
	return resp.Text, nil
}

// Respond generates the assistant reply over the full conversation history
// plus the new user message.
func (p *Pipeline) Respond(ctx context.Context, history []session.Entry, userText string) (string, error) {
	messages := toChatMessages(history)
	messages = append(messages, openai.UserMessage(userText))

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.chatModel),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reply generation returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Synthesize renders text as raw PCM16 at the pipeline's fixed wire format,
// ready for device playback.
func (p *Pipeline) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(p.speechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(p.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	defer resp.Body.Close()

	speech, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized speech: %w", err)
	}
	return speech, nil
}

// toChatMessages converts recorded entries into chat-completion messages.
func toChatMessages(history []session.Entry) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, entry := range history {
		switch entry.Role {
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(entry.Text))
		default:
			messages = append(messages, openai.UserMessage(entry.Text))
		}
	}
	return messages
}
