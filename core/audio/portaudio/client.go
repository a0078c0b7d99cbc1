// Package portaudio provides the default duplex audio device, backed by
// PortAudio's blocking stream API.
package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/koscakluka/voicechat/core/audio"
)

// Client owns one duplex PortAudio stream: capture and playback share the
// stream for the lifetime of a session.
type Client struct {
	frameSize int
	stream    *portaudio.Stream

	in  []int16
	out []int16

	// pending holds playback audio that has not been written to the device
	// yet. Cleared wholesale on FlushPlayback.
	pending   []byte
	pendingMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client before the stream is opened.
type Option func(*Client)

// WithFrameSize overrides the per-frame sample count.
func WithFrameSize(samples int) Option {
	return func(c *Client) {
		if samples > 0 {
			c.frameSize = samples
		}
	}
}

// Open acquires the default capture and playback devices at the fixed wire
// format (24kHz mono PCM16). The caller must Close the client on every exit
// path.
func Open(opts ...Option) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{frameSize: audio.DefaultFrameSize}
	for _, opt := range opts {
		opt(c)
	}

	c.in = make([]int16, c.frameSize)
	c.out = make([]int16, c.frameSize)

	stream, err := portaudio.OpenDefaultStream(
		audio.Channels, audio.Channels, float64(audio.SampleRate), c.frameSize, c.in, c.out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open duplex stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start duplex stream: %w", err)
	}

	c.stream = stream
	return c, nil
}

// ReadFrame blocks until one frame of microphone audio is captured and
// returns it as little-endian PCM bytes. Frames are never dropped; the device
// applies back-pressure by blocking.
func (c *Client) ReadFrame() ([]byte, error) {
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("failed to read capture frame: %w", err)
	}
	return audio.SamplesToBytes(c.in), nil
}

// WriteFrame enqueues playback audio and drains every whole frame to the
// device. A trailing partial frame stays pending until more audio arrives or
// the buffer is flushed.
func (c *Client) WriteFrame(frame []byte) error {
	frameBytes := c.frameSize * audio.BytesPerSample

	c.pendingMu.Lock()
	c.pending = append(c.pending, frame...)
	c.pendingMu.Unlock()

	for {
		c.pendingMu.Lock()
		if len(c.pending) < frameBytes {
			c.pendingMu.Unlock()
			return nil
		}
		samples, err := audio.BytesToSamples(c.pending[:frameBytes])
		if err != nil {
			c.pending = nil
			c.pendingMu.Unlock()
			return fmt.Errorf("failed to frame playback audio: %w", err)
		}
		copy(c.out, samples)
		c.pending = c.pending[frameBytes:]
		c.pendingMu.Unlock()

		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write playback frame: %w", err)
		}
	}
}

// FlushPlayback discards all enqueued-but-unplayed audio. Used on barge-in so
// the assistant goes quiet immediately.
func (c *Client) FlushPlayback() {
	c.pendingMu.Lock()
	c.pending = nil
	c.pendingMu.Unlock()
}

// Close releases both device handles. Safe to call more than once and from a
// different goroutine than the read/write loops; a blocked ReadFrame returns
// with an error once the stream is closed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.FlushPlayback()
		if c.stream != nil {
			if err := c.stream.Close(); err != nil {
				c.closeErr = fmt.Errorf("failed to close duplex stream: %w", err)
			}
		}
		if err := portaudio.Terminate(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("failed to terminate portaudio: %w", err)
		}
	})
	return c.closeErr
}
