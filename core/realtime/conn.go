package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultEndpoint = "wss://api.openai.com/v1/realtime"
	defaultModel    = "gpt-4o-realtime-preview"

	handshakeTimeout = 15 * time.Second
)

// ErrReceiveTimeout reports that no message arrived within the polling
// window. It is a liveness tick, not a connection failure.
var ErrReceiveTimeout = errors.New("realtime receive timed out")

// ErrConnClosed reports that the connection was closed locally.
var ErrConnClosed = errors.New("realtime connection closed")

// Conn is a live duplex connection to the realtime service. Send and Receive
// are independent directions: Send is safe for concurrent callers, Receive is
// fed by a single reader goroutine owned by the connection.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	inbound chan inboundMessage

	closeOnce sync.Once
	closed    chan struct{}
}

type inboundMessage struct {
	data []byte
	err  error
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	endpoint string
	model    string
}

// WithEndpoint overrides the service URL. Primarily used in tests to point at
// a local mock server.
func WithEndpoint(endpoint string) DialOption {
	return func(o *dialOptions) { o.endpoint = endpoint }
}

// WithModel selects the realtime model the session connects to.
func WithModel(model string) DialOption {
	return func(o *dialOptions) { o.model = model }
}

// Dial opens the websocket with a bounded handshake and starts the reader.
func Dial(ctx context.Context, apiKey string, opts ...DialOption) (*Conn, error) {
	options := dialOptions{endpoint: defaultEndpoint, model: defaultModel}
	for _, opt := range opts {
		opt(&options)
	}

	endpoint, err := url.Parse(options.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("model", options.model)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint.String(), http.Header{
		"Authorization": {"Bearer " + apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to realtime service: %w", err)
	}

	c := &Conn{
		ws:      ws,
		inbound: make(chan inboundMessage, 16),
		closed:  make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// readLoop pumps raw messages into the inbound channel until the socket
// errors or is closed.
func (c *Conn) readLoop() {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.inbound <- inboundMessage{err: err}:
			case <-c.closed:
			}
			return
		}

		select {
		case c.inbound <- inboundMessage{data: message}:
		case <-c.closed:
			return
		}
	}
}

// Send marshals an outbound event and writes it as one text message.
func (c *Conn) Send(event any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	if err := c.ws.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write to realtime service: %w", err)
	}
	return nil
}

// Receive returns the next parsed server event. It waits at most timeout and
// then returns ErrReceiveTimeout so the caller can poll session state. Parse
// failures return an error wrapping ErrProtocol; the connection stays usable.
func (c *Conn) Receive(timeout time.Duration) (ServerEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case message := <-c.inbound:
		if message.err != nil {
			select {
			case <-c.closed:
				return nil, ErrConnClosed
			default:
			}
			return nil, fmt.Errorf("failed to read from realtime service: %w", message.err)
		}
		return ParseEvent(message.data)
	case <-c.closed:
		return nil, ErrConnClosed
	case <-timer.C:
		return nil, ErrReceiveTimeout
	}
}

// Close tears the socket down and unblocks any pending Receive. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}
