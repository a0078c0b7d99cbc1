package session

import "errors"

// ErrorKind classifies errors surfaced to the observer. The kind is stable
// and machine-checkable; the accompanying message is for humans.
type ErrorKind string

const (
	// ErrorKindMissingCredential: no API key configured. Fatal, pre-connect.
	ErrorKindMissingCredential ErrorKind = "missing_credential"
	// ErrorKindDeviceUnavailable: no usable microphone or speaker. Fatal for
	// this start attempt; the session stays disconnected.
	ErrorKindDeviceUnavailable ErrorKind = "device_unavailable"
	// ErrorKindConnection: handshake or transport failure, including a
	// degraded uplink or a stalled downlink.
	ErrorKindConnection ErrorKind = "connection"
	// ErrorKindProtocol: a single malformed inbound message was dropped.
	ErrorKindProtocol ErrorKind = "protocol"
	// ErrorKindUpstream: the service reported an error inside the event
	// stream.
	ErrorKindUpstream ErrorKind = "upstream"
)

var (
	// ErrMissingCredential is returned by Start when no API key is
	// configured.
	ErrMissingCredential = errors.New("no API credential configured")

	// ErrDeviceUnavailable is returned by Start when audio devices cannot be
	// acquired.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrConnection is returned by Start when the realtime connection cannot
	// be established.
	ErrConnection = errors.New("realtime connection failed")

	// ErrAlreadyStarted is returned by Start when the session is not
	// disconnected.
	ErrAlreadyStarted = errors.New("session already started")
)
