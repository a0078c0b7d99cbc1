package session

import (
	"strings"
	"sync"
)

// transcriptChannel distinguishes the two delta streams the service may use
// for an assistant utterance: plain text deltas in text mode, audio-transcript
// deltas in speech mode.
type transcriptChannel int

const (
	channelText transcriptChannel = iota
	channelAudioTranscript
)

// transcriptAssembler accumulates streamed fragments of the in-flight
// assistant utterance, one buffer per channel. At most one utterance is in
// flight at a time; completion and interruption both leave the buffers empty.
type transcriptAssembler struct {
	mu     sync.Mutex
	chunks map[transcriptChannel][]string
}

func newTranscriptAssembler() *transcriptAssembler {
	return &transcriptAssembler{chunks: make(map[transcriptChannel][]string)}
}

// appendDelta records one fragment in arrival order.
func (a *transcriptAssembler) appendDelta(channel transcriptChannel, text string) {
	a.mu.Lock()
	a.chunks[channel] = append(a.chunks[channel], text)
	a.mu.Unlock()
}

// complete drains the buffer for one channel. Returns the empty string when
// no deltas arrived, so a spurious completion event is harmless.
func (a *transcriptAssembler) complete(channel transcriptChannel) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.Join(a.chunks[channel], "")
	delete(a.chunks, channel)
	return text
}

// clear discards both buffers without emitting anything. An interrupted
// utterance is dropped, not partially recorded.
func (a *transcriptAssembler) clear() {
	a.mu.Lock()
	a.chunks = make(map[transcriptChannel][]string)
	a.mu.Unlock()
}
