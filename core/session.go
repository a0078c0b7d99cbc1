// Package session owns the realtime conversation lifecycle: one duplex
// connection to the speech service, one audio device, and the two concurrent
// flows between them (microphone up, synthesized speech and transcripts
// down), including barge-in handling.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/voicechat/core/audio"
	"github.com/koscakluka/voicechat/core/audio/miniaudio"
	"github.com/koscakluka/voicechat/core/audio/portaudio"
	"github.com/koscakluka/voicechat/core/config"
	"github.com/koscakluka/voicechat/core/realtime"
)

const (
	defaultReceiveTimeout = 250 * time.Millisecond
	defaultJoinTimeout    = 2 * time.Second
)

// Session is the realtime conversation orchestrator. One Session drives one
// conversation with one user; it is not shared across conversations.
//
// Conversation and accumulator state is only mutated by the downlink
// goroutine. Stop is the single cross-goroutine mutation of the lifecycle
// state, which both loops poll cheaply.
type Session struct {
	cfg config.Config

	dial       Dialer
	openDevice DeviceOpener

	stateMu sync.Mutex
	state   State

	conn   Connection
	device Device
	loops  sync.WaitGroup

	conversation conversation
	transcript   *transcriptAssembler

	callbacks callbacks

	receiveTimeout time.Duration
	joinTimeout    time.Duration
	idleTimeout    time.Duration
}

// New builds a disconnected session around cfg. Nothing is acquired until
// Start.
func New(cfg config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:            cfg,
		state:          StateDisconnected,
		transcript:     newTranscriptAssembler(),
		receiveTimeout: defaultReceiveTimeout,
		joinTimeout:    defaultJoinTimeout,
		idleTimeout:    cfg.IdleTimeout,
	}

	s.dial = func(ctx context.Context) (Connection, error) {
		return realtime.Dial(ctx, cfg.APIKey, realtime.WithModel(cfg.RealtimeModel))
	}
	s.openDevice = func() (Device, error) {
		if cfg.AudioBackend == config.BackendMiniaudio {
			return miniaudio.Open(miniaudio.WithFrameSize(cfg.FrameSize))
		}
		return portaudio.Open(portaudio.WithFrameSize(cfg.FrameSize))
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Conversation returns a point-in-time copy of the entry list.
func (s *Session) Conversation() []Entry {
	return s.conversation.snapshot()
}

// ClearConversation drops all recorded entries. The session itself keeps
// running.
func (s *Session) ClearConversation() {
	s.conversation.clear()
}

// Start connects, configures the session, acquires the audio device and
// launches the uplink and downlink. Any failure on the way up tears down
// whatever was acquired and leaves the session disconnected; the session is
// never left half-open. A Stop arriving while the connection is still being
// established wins: Start releases what it acquired and the session stays
// disconnected.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		s.emitError(ErrorKindMissingCredential, "no API credential configured; set OPENAI_API_KEY")
		return ErrMissingCredential
	}

	if !s.transition(StateDisconnected, StateConnecting) {
		return ErrAlreadyStarted
	}

	ctx, span := tracer.Start(ctx, "session.start")
	defer span.End()

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.emitError(ErrorKindConnection, fmt.Sprintf("failed to connect: %v", err))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := conn.Send(realtime.NewSessionUpdate(s.sessionConfig())); err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.emitError(ErrorKindConnection, fmt.Sprintf("failed to configure session: %v", err))
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	device, err := s.openDevice()
	if err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.emitError(ErrorKindDeviceUnavailable, fmt.Sprintf("failed to open audio device: %v", err))
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.stateMu.Lock()
	if s.state != StateConnecting {
		s.stateMu.Unlock()
		// Stop ran while the connection was being established. It never saw
		// these handles, so they are released here and the session stays down.
		if err := device.Close(); err != nil {
			logger.Warn("failed to close audio device", "error", err)
		}
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close realtime connection", "error", err)
		}
		return nil
	}
	s.conn = conn
	s.device = device
	s.state = StateActive
	s.stateMu.Unlock()
	s.notifyState(StateActive)

	s.loops.Add(2)
	go s.uplink(conn, device)
	go s.downlink(conn, device)

	return nil
}

// Stop winds the session down from any state. Idempotent; a no-op when
// already disconnected. Device and connection are released on every path, and
// the loops are joined with a bounded wait so Stop never hangs on a stuck
// read.
func (s *Session) Stop() {
	s.stateMu.Lock()
	if s.state == StateDisconnected || s.state == StateClosing {
		s.stateMu.Unlock()
		return
	}
	s.state = StateClosing
	conn, device := s.conn, s.device
	s.conn, s.device = nil, nil
	s.stateMu.Unlock()
	s.notifyState(StateClosing)

	// Closing the handles unblocks a ReadFrame or Receive immediately.
	if device != nil {
		if err := device.Close(); err != nil {
			logger.Warn("failed to close audio device", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close realtime connection", "error", err)
		}
	}

	joined := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(s.joinTimeout):
		logger.Warn("session loops did not wind down in time")
	}

	s.transcript.clear()
	s.setState(StateDisconnected)
}

// uplink streams microphone frames to the service until the session leaves
// the active state. A send failure degrades the session (no more uplink
// audio) without tearing down the downlink.
func (s *Session) uplink(conn Connection, device Device) {
	defer s.loops.Done()

	for s.State() == StateActive {
		frame, err := device.ReadFrame()
		if err != nil {
			if s.State() != StateActive {
				return
			}
			logger.Warn("audio capture failed", "error", err)
			s.emitError(ErrorKindDeviceUnavailable, fmt.Sprintf("microphone capture stopped: %v", err))
			return
		}

		if err := conn.Send(realtime.NewAudioAppend(audio.EncodeFrame(frame))); err != nil {
			if s.State() != StateActive {
				return
			}
			logger.Warn("audio uplink send failed", "error", err)
			s.emitError(ErrorKindConnection, fmt.Sprintf("audio uplink stopped: %v", err))
			return
		}
	}
}

// downlink receives server events and dispatches them in arrival order. The
// short receive timeout keeps the loop responsive to Stop and doubles as the
// idle-liveness check.
func (s *Session) downlink(conn Connection, device Device) {
	defer s.loops.Done()

	lastMessage := time.Now()
	for s.State() == StateActive {
		event, err := conn.Receive(s.receiveTimeout)
		if err != nil {
			switch {
			case errors.Is(err, realtime.ErrReceiveTimeout):
				if s.idleTimeout > 0 && time.Since(lastMessage) > s.idleTimeout {
					s.emitError(ErrorKindConnection,
						fmt.Sprintf("no server activity for %s", s.idleTimeout))
					lastMessage = time.Now()
				}
			case errors.Is(err, realtime.ErrProtocol):
				// One bad message; drop it and keep the stream.
				logger.Warn("dropped malformed server event", "error", err)
				s.emitError(ErrorKindProtocol, err.Error())
				lastMessage = time.Now()
			default:
				if s.State() != StateActive {
					return
				}
				// The receive direction is gone; the connection is not usable
				// anymore, so take the whole session down.
				logger.Warn("realtime receive failed", "error", err)
				s.emitError(ErrorKindConnection, fmt.Sprintf("connection lost: %v", err))
				go s.Stop()
				return
			}
			continue
		}

		lastMessage = time.Now()
		s.dispatch(event, device)
	}
}

// dispatch applies one server event to conversation, transcript and playback
// state. Runs only on the downlink goroutine, in arrival order.
func (s *Session) dispatch(event realtime.ServerEvent, device Device) {
	switch e := event.(type) {
	case realtime.SessionCreated:
		logger.Info("realtime session established")

	case realtime.InputTranscriptionCompleted:
		// User turns arrive complete; no accumulation.
		if e.Transcript == "" {
			return
		}
		s.appendEntry(RoleUser, e.Transcript)

	case realtime.AudioDelta:
		frame, err := audio.DecodeFrame(e.Audio)
		if err != nil {
			logger.Warn("dropped undecodable audio delta", "error", err)
			s.emitError(ErrorKindProtocol, fmt.Sprintf("undecodable audio delta: %v", err))
			return
		}
		if err := device.WriteFrame(frame); err != nil {
			logger.Warn("playback write failed", "error", err)
		}

	case realtime.TextDelta:
		s.transcript.appendDelta(channelText, e.Delta)

	case realtime.AudioTranscriptDelta:
		s.transcript.appendDelta(channelAudioTranscript, e.Delta)

	case realtime.TextDone:
		s.completeAssistantTurn(channelText, e.Text)

	case realtime.AudioTranscriptDone:
		s.completeAssistantTurn(channelAudioTranscript, e.Transcript)

	case realtime.Interrupted:
		// Barge-in: cut playback before any further audio delta is handled
		// and discard the partial utterance.
		device.FlushPlayback()
		s.transcript.clear()

	case realtime.ServerError:
		s.emitError(ErrorKindUpstream, e.Message)
		if e.Fatal() {
			go s.Stop()
		}

	case realtime.Unknown:
		// Forward compatibility: skip silently.
	}
}

// completeAssistantTurn drains the accumulator for one channel and records
// the finished utterance. The done event's own payload, when present, is
// authoritative over the accumulated fragments.
func (s *Session) completeAssistantTurn(channel transcriptChannel, finalText string) {
	accumulated := s.transcript.complete(channel)
	text := finalText
	if text == "" {
		text = accumulated
	}
	if text == "" {
		return
	}
	s.appendEntry(RoleAssistant, text)
}

func (s *Session) appendEntry(role Role, text string) {
	entry := s.conversation.append(role, text, nil)
	if s.callbacks.onConversationEntry != nil {
		s.callbacks.onConversationEntry(entry)
	}
}

func (s *Session) sessionConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		Instructions:            s.cfg.Instructions,
		Voice:                   s.cfg.Voice,
		InputAudioTranscription: &realtime.AudioTranscription{Model: s.cfg.TranscriptionModel},
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         s.cfg.VADThreshold,
			PrefixPaddingMS:   s.cfg.VADPrefixPaddingMS,
			SilenceDurationMS: s.cfg.VADSilenceDurationMS,
		},
	}
}

// transition moves from an expected state to the next one; it reports false
// when the session is not in the expected state.
func (s *Session) transition(from, to State) bool {
	s.stateMu.Lock()
	if s.state != from {
		s.stateMu.Unlock()
		return false
	}
	s.state = to
	s.stateMu.Unlock()

	s.notifyState(to)
	return true
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	s.notifyState(state)
}

func (s *Session) notifyState(state State) {
	if s.callbacks.onStateChange != nil {
		s.callbacks.onStateChange(state)
	}
}

func (s *Session) emitError(kind ErrorKind, message string) {
	if s.callbacks.onError != nil {
		s.callbacks.onError(kind, message)
	}
}
