// Package audio holds the fixed wire audio format and the pure conversion
// helpers shared by capture, playback and the realtime transport.
//
// The whole pipeline runs on a single format: mono, 16-bit signed
// little-endian PCM at 24kHz. Anything else is out of scope.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

const (
	// SampleRate is the only sample rate spoken on the wire and by devices.
	SampleRate = 24000
	// Channels is fixed to mono.
	Channels = 1
	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2

	// DefaultFrameSize is the number of samples captured or played per frame.
	DefaultFrameSize = 2048
)

// SamplesToBytes converts int16 samples to little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// BytesToSamples converts little-endian PCM bytes back to int16 samples.
// The input must hold whole samples.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a whole number of samples", len(data))
	}

	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out, nil
}

// EncodePCM16 encodes samples as little-endian PCM wrapped in base64, the
// payload format of audio events on the wire.
func EncodePCM16(samples []int16) string {
	return EncodeFrame(SamplesToBytes(samples))
}

// DecodePCM16 is the exact inverse of EncodePCM16.
func DecodePCM16(encoded string) ([]int16, error) {
	data, err := DecodeFrame(encoded)
	if err != nil {
		return nil, err
	}
	return BytesToSamples(data)
}

// EncodeFrame base64-encodes a raw little-endian PCM frame. Device frames are
// already in wire byte order, so no sample conversion is needed.
func EncodeFrame(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// DecodeFrame decodes a base64 audio payload into raw PCM bytes and rejects
// payloads that end mid-sample.
func DecodeFrame(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio payload: %w", err)
	}
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio payload length %d is not a whole number of samples", len(data))
	}
	return data, nil
}

// FloatToPCM16 converts a float sample in [-1, 1] to a 16-bit sample. Input is
// clamped first. The scaling is asymmetric (0x7FFF positive, 0x8000 negative)
// so that both full-scale values are representable exactly.
func FloatToPCM16(sample float32) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}

	if sample < 0 {
		return int16(math.Round(float64(sample) * 0x8000))
	}
	return int16(math.Round(float64(sample) * 0x7FFF))
}

// PCM16ToFloat is the inverse of FloatToPCM16, using the same asymmetric
// divisors.
func PCM16ToFloat(sample int16) float32 {
	if sample < 0 {
		return float32(sample) / 0x8000
	}
	return float32(sample) / 0x7FFF
}
