package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/voicechat/core/config"
	"github.com/koscakluka/voicechat/core/realtime"
)

type fakeConnection struct {
	mu   sync.Mutex
	sent []any

	events chan realtime.ServerEvent

	sendErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		events: make(chan realtime.ServerEvent, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConnection) Send(event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeConnection) Receive(timeout time.Duration) (realtime.ServerEvent, error) {
	select {
	case event := <-f.events:
		return event, nil
	case <-f.closed:
		return nil, realtime.ErrConnClosed
	case <-time.After(timeout):
		return nil, realtime.ErrReceiveTimeout
	}
}

func (f *fakeConnection) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConnection) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConnection) sentEvents() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type fakeDevice struct {
	mu         sync.Mutex
	ops        []string
	captureErr error

	captured chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		captured: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeDevice) setCaptureErr(err error) {
	f.mu.Lock()
	f.captureErr = err
	f.mu.Unlock()
}

func (f *fakeDevice) ReadFrame() ([]byte, error) {
	f.mu.Lock()
	captureErr := f.captureErr
	f.mu.Unlock()
	if captureErr != nil {
		return nil, captureErr
	}
	select {
	case frame := <-f.captured:
		return frame, nil
	case <-f.closed:
		return nil, errors.New("device closed")
	}
}

func (f *fakeDevice) WriteFrame(frame []byte) error {
	f.mu.Lock()
	f.ops = append(f.ops, "write:"+string(frame))
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) FlushPlayback() {
	f.mu.Lock()
	f.ops = append(f.ops, "flush")
	f.mu.Unlock()
}

func (f *fakeDevice) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.ops = append(f.ops, "close")
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeDevice) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type observedError struct {
	kind    ErrorKind
	message string
}

type harness struct {
	session *Session
	conn    *fakeConnection
	device  *fakeDevice

	entries chan Entry
	states  chan State
	errs    chan observedError
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	h := &harness{
		conn:    newFakeConnection(),
		device:  newFakeDevice(),
		entries: make(chan Entry, 16),
		states:  make(chan State, 16),
		errs:    make(chan observedError, 16),
	}

	h.session = New(cfg,
		WithDialer(func(context.Context) (Connection, error) { return h.conn, nil }),
		WithDeviceOpener(func() (Device, error) { return h.device, nil }),
		WithReceiveTimeout(5*time.Millisecond),
		WithJoinTimeout(time.Second),
		WithOnConversationEntry(func(entry Entry) { h.entries <- entry }),
		WithOnStateChange(func(state State) { h.states <- state }),
		WithOnError(func(kind ErrorKind, message string) {
			h.errs <- observedError{kind: kind, message: message}
		}),
	)

	return h
}

func testConfig() config.Config {
	return config.Config{
		APIKey:             "sk-test",
		RealtimeModel:      "gpt-4o-realtime-preview",
		TranscriptionModel: "whisper-1",
		Voice:              "alloy",
	}
}

func waitFor(t *testing.T, condition func() bool, description string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func waitEntry(t *testing.T, entries chan Entry) Entry {
	t.Helper()
	select {
	case entry := <-entries:
		return entry
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a conversation entry")
		return Entry{}
	}
}

func waitErrorKind(t *testing.T, errs chan observedError, kind ErrorKind) observedError {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case observed := <-errs:
			if observed.kind == kind {
				return observed
			}
		case <-deadline:
			t.Fatalf("timed out waiting for error kind %q", kind)
		}
	}
}

func encodePayload(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestStartFailsFastWithoutCredential(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""
	h := newHarness(t, cfg)

	dialed := false
	h.session.dial = func(context.Context) (Connection, error) {
		dialed = true
		return h.conn, nil
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if dialed {
		t.Fatalf("expected no dial attempt without a credential")
	}
	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected session to stay disconnected, got %v", state)
	}
	waitErrorKind(t, h.errs, ErrorKindMissingCredential)
}

func TestStartReturnsToDisconnectedOnDialFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.session.dial = func(context.Context) (Connection, error) {
		return nil, errors.New("connection refused")
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected session to return to disconnected, got %v", state)
	}
	waitErrorKind(t, h.errs, ErrorKindConnection)
}

func TestStartReleasesConnectionOnDeviceFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.session.openDevice = func() (Device, error) {
		return nil, errors.New("no default input device")
	}

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if !h.conn.isClosed() {
		t.Fatalf("expected the connection to be closed when the device fails")
	}
	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected session to return to disconnected, got %v", state)
	}
	waitErrorKind(t, h.errs, ErrorKindDeviceUnavailable)
}

func TestStartConfiguresSessionBeforeGoingActive(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	sent := h.conn.sentEvents()
	if len(sent) == 0 {
		t.Fatalf("expected a session.update to be sent on start")
	}
	update, ok := sent[0].(realtime.SessionUpdate)
	if !ok {
		t.Fatalf("expected first event to be a session update, got %#v", sent[0])
	}
	if update.Session.InputAudioFormat != "pcm16" || update.Session.OutputAudioFormat != "pcm16" {
		t.Fatalf("expected pcm16 audio formats, got %q / %q",
			update.Session.InputAudioFormat, update.Session.OutputAudioFormat)
	}
	if update.Session.TurnDetection == nil || update.Session.TurnDetection.Type != "server_vad" {
		t.Fatalf("expected server_vad turn detection, got %#v", update.Session.TurnDetection)
	}

	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected active session, got %v", state)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestUplinkStreamsCapturedFrames(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.device.captured <- []byte("aaaa")
	h.device.captured <- []byte("bbbb")

	waitFor(t, func() bool {
		appends := 0
		for _, event := range h.conn.sentEvents() {
			if _, ok := event.(realtime.AudioAppend); ok {
				appends++
			}
		}
		return appends >= 2
	}, "two audio append events")

	var appends []realtime.AudioAppend
	for _, event := range h.conn.sentEvents() {
		if appended, ok := event.(realtime.AudioAppend); ok {
			appends = append(appends, appended)
		}
	}
	if appends[0].Audio != encodePayload("aaaa") || appends[1].Audio != encodePayload("bbbb") {
		t.Fatalf("expected frames to be forwarded in capture order, got %#v", appends)
	}
}

func TestDownlinkConversationFlow(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.conn.events <- realtime.InputTranscriptionCompleted{Transcript: "hello"}
	entry := waitEntry(t, h.entries)
	if entry.Role != RoleUser || entry.Text != "hello" {
		t.Fatalf("expected user entry %q, got %v %q", "hello", entry.Role, entry.Text)
	}

	h.conn.events <- realtime.AudioTranscriptDelta{Delta: "Hi"}
	h.conn.events <- realtime.AudioTranscriptDelta{Delta: " there"}
	h.conn.events <- realtime.AudioTranscriptDone{Transcript: "Hi there"}
	entry = waitEntry(t, h.entries)
	if entry.Role != RoleAssistant || entry.Text != "Hi there" {
		t.Fatalf("expected assistant entry %q, got %v %q", "Hi there", entry.Role, entry.Text)
	}

	// A partially accumulated utterance interrupted mid-stream leaves no
	// trace in the conversation.
	h.conn.events <- realtime.AudioTranscriptDelta{Delta: "I was about to"}
	h.conn.events <- realtime.Interrupted{}
	h.conn.events <- realtime.AudioTranscriptDone{Transcript: ""}

	h.conn.events <- realtime.InputTranscriptionCompleted{Transcript: "stop"}
	entry = waitEntry(t, h.entries)
	if entry.Role != RoleUser || entry.Text != "stop" {
		t.Fatalf("expected the interrupted utterance to be discarded; got %v %q", entry.Role, entry.Text)
	}

	conversation := h.session.Conversation()
	if len(conversation) != 3 {
		t.Fatalf("expected 3 entries, got %d: %#v", len(conversation), conversation)
	}
}

func TestDonePayloadIsAuthoritativeOverAccumulation(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.conn.events <- realtime.AudioTranscriptDelta{Delta: "Hi"}
	h.conn.events <- realtime.AudioTranscriptDelta{Delta: " there"}
	h.conn.events <- realtime.AudioTranscriptDone{Transcript: "Hello there."}

	entry := waitEntry(t, h.entries)
	if entry.Text != "Hello there." {
		t.Fatalf("expected done payload to win over accumulation, got %q", entry.Text)
	}

	// Without a done payload the accumulated fragments are used.
	h.conn.events <- realtime.TextDelta{Delta: "ok"}
	h.conn.events <- realtime.TextDone{Text: ""}

	entry = waitEntry(t, h.entries)
	if entry.Text != "ok" {
		t.Fatalf("expected accumulated text as fallback, got %q", entry.Text)
	}
}

func TestInterruptionFlushesBeforeLaterAudio(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.conn.events <- realtime.AudioDelta{Audio: encodePayload("aaaa")}
	h.conn.events <- realtime.AudioDelta{Audio: encodePayload("bbbb")}
	h.conn.events <- realtime.Interrupted{}
	h.conn.events <- realtime.AudioDelta{Audio: encodePayload("cccc")}

	waitFor(t, func() bool {
		return len(h.device.operations()) >= 4
	}, "interruption sequence to be processed")

	ops := h.device.operations()[:4]
	expected := []string{"write:aaaa", "write:bbbb", "flush", "write:cccc"}
	for i := range expected {
		if ops[i] != expected[i] {
			t.Fatalf("expected operations %v, got %v", expected, ops)
		}
	}

	flushes := 0
	for _, op := range h.device.operations() {
		if op == "flush" {
			flushes++
		}
	}
	if flushes != 1 {
		t.Fatalf("expected exactly one playback flush, got %d", flushes)
	}
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.conn.events <- realtime.Unknown{Type: "response.created"}
	h.conn.events <- realtime.Unknown{Type: "rate_limits.updated"}
	h.conn.events <- realtime.InputTranscriptionCompleted{Transcript: "still here"}

	entry := waitEntry(t, h.entries)
	if entry.Text != "still here" {
		t.Fatalf("expected session to keep processing after unknown events, got %q", entry.Text)
	}
	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected session to stay active, got %v", state)
	}
}

func TestNonFatalServerErrorKeepsSessionActive(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	h.conn.events <- realtime.ServerError{Code: "rate_limit", Message: "slow down"}

	observed := waitErrorKind(t, h.errs, ErrorKindUpstream)
	if observed.message != "slow down" {
		t.Fatalf("expected the upstream message to be surfaced, got %q", observed.message)
	}
	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected session to survive a non-fatal upstream error, got %v", state)
	}
}

func TestFatalServerErrorStopsSession(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	h.conn.events <- realtime.ServerError{Code: "session_expired", Message: "session expired"}

	waitErrorKind(t, h.errs, ErrorKindUpstream)
	waitFor(t, func() bool {
		return h.session.State() == StateDisconnected
	}, "session to shut down after a fatal upstream error")

	if !h.conn.isClosed() {
		t.Fatalf("expected the connection to be closed")
	}
}

func TestIdleDownlinkIsReportedAsDegraded(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	observed := waitErrorKind(t, h.errs, ErrorKindConnection)
	if observed.message == "" {
		t.Fatalf("expected a human-readable liveness message")
	}
	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected liveness reporting to keep the session active, got %v", state)
	}
}

func TestStopDuringConnectLeavesSessionStopped(t *testing.T) {
	h := newHarness(t, testConfig())

	dialing := make(chan struct{})
	release := make(chan struct{})
	h.session.dial = func(context.Context) (Connection, error) {
		close(dialing)
		<-release
		return h.conn, nil
	}

	started := make(chan error, 1)
	go func() { started <- h.session.Start(context.Background()) }()

	<-dialing
	h.session.Stop()
	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %v", state)
	}
	close(release)

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("start failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not return")
	}

	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected stop to win over the in-flight start, got %v", state)
	}
	if !h.conn.isClosed() {
		t.Fatalf("expected the late-dialed connection to be closed")
	}
	closes := 0
	for _, op := range h.device.operations() {
		if op == "close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("expected the acquired device to be released exactly once, got %d closes", closes)
	}
}

func TestCaptureFailureIsReportedAsDeviceProblem(t *testing.T) {
	h := newHarness(t, testConfig())
	h.device.setCaptureErr(errors.New("input stream overflowed"))

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer h.session.Stop()

	observed := waitErrorKind(t, h.errs, ErrorKindDeviceUnavailable)
	if observed.message == "" {
		t.Fatalf("expected a human-readable capture failure message")
	}
	// The downlink keeps running; only the uplink is lost.
	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected session to stay active with a degraded uplink, got %v", state)
	}
}

func TestStopIsIdempotentAndReachesDisconnected(t *testing.T) {
	h := newHarness(t, testConfig())

	// Stop before any start is a no-op.
	h.session.Stop()
	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected after no-op stop, got %v", state)
	}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	h.session.Stop()
	h.session.Stop()

	if state := h.session.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %v", state)
	}
	if !h.conn.isClosed() {
		t.Fatalf("expected connection to be closed by stop")
	}

	closes := 0
	for _, op := range h.device.operations() {
		if op == "close" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("expected exactly one device close, got %d", closes)
	}
}

func TestSessionCanBeRestartedAfterStop(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	h.session.Stop()

	// A fresh connection and device stand in for the ones released by Stop.
	h.conn = newFakeConnection()
	h.device = newFakeDevice()

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer h.session.Stop()

	if state := h.session.State(); state != StateActive {
		t.Fatalf("expected active session after restart, got %v", state)
	}

	h.conn.events <- realtime.InputTranscriptionCompleted{Transcript: fmt.Sprintf("round %d", 2)}
	if entry := waitEntry(t, h.entries); entry.Text != "round 2" {
		t.Fatalf("expected restarted session to process events, got %q", entry.Text)
	}
}
