package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/koscakluka/voicechat/core/audio"
)

// captureClient buffers device-callback audio so callers can pull fixed-size
// frames. The device callback must never block, so it appends under a mutex
// and ReadFrame waits on a signal channel.
type captureClient struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu       sync.Mutex
	buffered []byte
	closed   bool

	signal chan struct{}
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * audio.Channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(audio.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(audio.Channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.signal = make(chan struct{}, 1)

	device, err := malgo.InitDevice(audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.mu.Lock()
			if !c.closed {
				c.buffered = append(c.buffered, pInput[:n]...)
			}
			c.mu.Unlock()
			c.signalUpdate()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return nil
}

func (c *captureClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// ReadFrame blocks until frameBytes of audio have accumulated or the device
// is uninitialized.
func (c *captureClient) ReadFrame(frameBytes int) ([]byte, error) {
	for {
		c.mu.Lock()
		if len(c.buffered) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, c.buffered[:frameBytes])
			c.buffered = c.buffered[frameBytes:]
			c.mu.Unlock()
			return frame, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, fmt.Errorf("capture device closed")
		}
		c.mu.Unlock()

		<-c.signal
	}
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.closed = true
	c.buffered = nil
	c.mu.Unlock()

	c.signalUpdate()
	return nil
}

func (c *captureClient) signalUpdate() {
	if c.signal == nil {
		return
	}
	select {
	case c.signal <- struct{}{}:
	default:
	}
}
