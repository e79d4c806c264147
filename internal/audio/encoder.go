package audio

import (
	"fmt"

	"github.com/voicegate-labs/voicegate/internal/config"
	opus "gopkg.in/hraban/opus.v2"
)

// FrameEncoder turns fixed-rate mono PCM into an ordered sequence of Opus
// frames. One encoder instance carries codec state across the frames of a
// single call, so a FrameEncoder is built per request and not shared.
type FrameEncoder struct {
	enc           *opus.Encoder
	frameSamples  int
	maxFrameBytes int
}

func NewFrameEncoder(cfg config.AudioConfig) (*FrameEncoder, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &FrameEncoder{
		enc:           enc,
		frameSamples:  cfg.SampleRate * cfg.FrameDurationMS / 1000,
		maxFrameBytes: cfg.MaxFrameBytes,
	}, nil
}

// FrameSamples reports the number of PCM samples consumed per frame.
func (f *FrameEncoder) FrameSamples() int {
	return f.frameSamples
}

// Encode partitions samples into consecutive frames and compresses each in
// order. A trailing partial frame is zero-padded to the full frame size
// rather than dropped, so no caller audio is truncated. Frame i of the
// output corresponds exactly to input samples [i*n, (i+1)*n).
func (f *FrameEncoder) Encode(samples []int16) ([][]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	frameCount := (len(samples) + f.frameSamples - 1) / f.frameSamples
	frames := make([][]byte, 0, frameCount)

	for start := 0; start < len(samples); start += f.frameSamples {
		end := start + f.frameSamples
		var pcm []int16
		if end <= len(samples) {
			pcm = samples[start:end]
		} else {
			pcm = make([]int16, f.frameSamples)
			copy(pcm, samples[start:])
		}

		buf := make([]byte, f.maxFrameBytes)
		n, err := f.enc.Encode(pcm, buf)
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", len(frames), err)
		}
		frames = append(frames, buf[:n])
	}
	return frames, nil
}
