// Package miniaudio provides an alternate duplex audio device backed by
// miniaudio (malgo), for hosts where PortAudio is unavailable.
package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/voicechat/core/audio"
)

// Client pairs one capture and one playback device under a shared malgo
// context.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	frameSize int

	capture  captureClient
	playback playbackClient

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client before the devices are opened.
type Option func(*Client)

// WithFrameSize overrides the per-frame sample count.
func WithFrameSize(samples int) Option {
	return func(c *Client) {
		if samples > 0 {
			c.frameSize = samples
		}
	}
}

// Open initializes both devices at the fixed wire format and starts them.
// Partially-initialized state is torn down before returning an error.
func Open(opts ...Option) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}

	c := &Client{audioContext: audioCtx, frameSize: audio.DefaultFrameSize}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.playback.Init(audioCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := c.playback.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := c.capture.Init(audioCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := c.capture.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	return c, nil
}

// ReadFrame blocks until one frame of captured audio is available.
func (c *Client) ReadFrame() ([]byte, error) {
	return c.capture.ReadFrame(c.frameSize * audio.BytesPerSample)
}

// WriteFrame enqueues playback audio; the device callback drains it.
func (c *Client) WriteFrame(frame []byte) error {
	return c.playback.SendAudio(frame)
}

// FlushPlayback discards all buffered-but-unplayed audio.
func (c *Client) FlushPlayback() {
	c.playback.ClearBuffer()
}

// Close releases both devices and the context. Idempotent; unblocks a pending
// ReadFrame.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.capture.Uninit(); err != nil {
			c.closeErr = err
		}
		if err := c.playback.Uninit(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		if c.audioContext != nil {
			if err := c.audioContext.Uninit(); err != nil && c.closeErr == nil {
				c.closeErr = fmt.Errorf("failed to uninitialize miniaudio context: %w", err)
			}
			c.audioContext.Free()
		}
	})
	return c.closeErr
}
