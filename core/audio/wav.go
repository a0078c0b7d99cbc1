package audio

import "encoding/binary"

// WAVFromPCM16 wraps raw little-endian PCM16 mono audio in a minimal RIFF/WAV
// container so it can be handed to APIs that expect a file format.
func WAVFromPCM16(pcm []byte) []byte {
	const headerSize = 44
	byteRate := SampleRate * Channels * BytesPerSample
	blockAlign := Channels * BytesPerSample

	out := make([]byte, headerSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 8*BytesPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)

	return out
}
