package session

import (
	"context"
	"time"

	"github.com/koscakluka/voicechat/core/realtime"
)

// Device is the duplex audio interface the session drives: blocking frame
// capture, buffered playback, an immediate playback flush for barge-in, and
// idempotent teardown.
type Device interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	FlushPlayback()
	Close() error
}

// Connection is the duplex event link to the speech service. Send and Receive
// are independent directions; Receive returns realtime.ErrReceiveTimeout as a
// liveness tick and errors wrapping realtime.ErrProtocol for single dropped
// messages.
type Connection interface {
	Send(event any) error
	Receive(timeout time.Duration) (realtime.ServerEvent, error)
	Close() error
}

// Dialer opens the connection during Start.
type Dialer func(ctx context.Context) (Connection, error)

// DeviceOpener acquires the audio device during Start. Devices exist only
// while the session is active.
type DeviceOpener func() (Device, error)

// Option configures a Session at construction time.
type Option func(*Session)

// WithDialer replaces the default realtime dialer. Used by tests and by
// callers pointing at a non-default endpoint.
func WithDialer(dial Dialer) Option {
	return func(s *Session) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// WithDeviceOpener replaces the default audio backend.
func WithDeviceOpener(open DeviceOpener) Option {
	return func(s *Session) {
		if open != nil {
			s.openDevice = open
		}
	}
}

// WithOnConversationEntry subscribes to completed utterances. The callback
// runs on session goroutines and must not block.
func WithOnConversationEntry(callback func(Entry)) Option {
	return func(s *Session) { s.callbacks.onConversationEntry = callback }
}

// WithOnStateChange subscribes to lifecycle transitions.
func WithOnStateChange(callback func(State)) Option {
	return func(s *Session) { s.callbacks.onStateChange = callback }
}

// WithOnError subscribes to surfaced errors. Every error comes with a stable
// kind and a human-readable message.
func WithOnError(callback func(ErrorKind, string)) Option {
	return func(s *Session) { s.callbacks.onError = callback }
}

// WithReceiveTimeout sets the downlink polling window. Shutdown latency is
// bounded by this value.
func WithReceiveTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.receiveTimeout = timeout
		}
	}
}

// WithJoinTimeout bounds how long Stop waits for the uplink and downlink to
// wind down before giving up on them.
func WithJoinTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.joinTimeout = timeout
		}
	}
}

type callbacks struct {
	onConversationEntry func(Entry)
	onStateChange       func(State)
	onError             func(ErrorKind, string)
}
