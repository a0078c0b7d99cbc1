package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	session "github.com/koscakluka/voicechat/core"
	"github.com/koscakluka/voicechat/core/audio"
	"github.com/koscakluka/voicechat/core/audio/miniaudio"
	"github.com/koscakluka/voicechat/core/audio/portaudio"
	"github.com/koscakluka/voicechat/core/config"
	"github.com/koscakluka/voicechat/core/oneshot"
)

const recordSeconds = 4

// runRequestMode drives the turn-by-turn flow: record a few seconds of
// microphone audio, run it through the transcribe/respond/speak pipeline, and
// play the reply.
func runRequestMode(cfg config.Config) error {
	device, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer device.Close()

	pipeline := oneshot.New(cfg)

	var history []session.Entry
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("[enter] record · c clear · q quit > ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		switch scanner.Text() {
		case "q":
			return nil
		case "c":
			history = nil
			fmt.Println("conversation cleared")
			continue
		}

		fmt.Printf("recording for %ds...\n", recordSeconds)
		pcm, err := record(device)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}

		exchange, err := pipeline.Run(context.Background(), audio.WAVFromPCM16(pcm), history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "exchange failed: %v\n", err)
			continue
		}

		fmt.Printf("you: %s\n", exchange.UserText)
		fmt.Printf("assistant: %s\n", exchange.AssistantText)

		history = append(history,
			session.Entry{Role: session.RoleUser, Text: exchange.UserText, Index: len(history)},
			session.Entry{Role: session.RoleAssistant, Text: exchange.AssistantText, Audio: exchange.Speech, Index: len(history) + 1},
		)

		if len(exchange.Speech) > 0 {
			if err := play(device, exchange.Speech, cfg.FrameSize); err != nil {
				fmt.Fprintf(os.Stderr, "playback failed: %v\n", err)
			}
		}
	}
}

func openDevice(cfg config.Config) (session.Device, error) {
	if cfg.AudioBackend == config.BackendMiniaudio {
		return miniaudio.Open(miniaudio.WithFrameSize(cfg.FrameSize))
	}
	return portaudio.Open(portaudio.WithFrameSize(cfg.FrameSize))
}

// record captures a fixed-length utterance as raw PCM16.
func record(device session.Device) ([]byte, error) {
	target := audio.SampleRate * audio.BytesPerSample * recordSeconds

	pcm := make([]byte, 0, target)
	for len(pcm) < target {
		frame, err := device.ReadFrame()
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, frame...)
	}
	return pcm[:target], nil
}

// play writes PCM16 audio to the device frame by frame, padding the tail to a
// whole frame. Whatever part of the audio duration the writes did not already
// cover is waited out afterwards, so asynchronous backends can drain before
// the next prompt while blocking backends (which pace the writes themselves)
// add no extra pause.
func play(device session.Device, pcm []byte, frameSize int) error {
	frameBytes := frameSize * audio.BytesPerSample
	duration := time.Duration(len(pcm)) * time.Second / (audio.SampleRate * audio.BytesPerSample)
	started := time.Now()

	for offset := 0; offset < len(pcm); offset += frameBytes {
		end := offset + frameBytes
		frame := make([]byte, frameBytes)
		if end > len(pcm) {
			copy(frame, pcm[offset:])
		} else {
			copy(frame, pcm[offset:end])
		}
		if err := device.WriteFrame(frame); err != nil {
			return err
		}
	}

	if wait := duration - time.Since(started); wait > 0 {
		time.Sleep(wait)
	}
	return nil
}
