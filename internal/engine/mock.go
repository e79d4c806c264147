package engine

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type mockEngine struct {
	sampleRate int
}

// NewMock returns an engine that synthesizes a deterministic tone, 20ms of
// audio per input rune. Used when engine.mode=mock and throughout the tests.
func NewMock(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Generate(ctx context.Context, text string) ([]byte, error) {
	pcm, err := m.GeneratePCM(ctx, text)
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp("", "voicegate_mock_*.wav")
	if err != nil {
		return nil, fmt.Errorf("create mock output: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := WritePCMToWav(file, pcm, m.sampleRate, 1); err != nil {
		return nil, err
	}
	return os.ReadFile(file.Name())
}

func (m *mockEngine) GeneratePCM(ctx context.Context, text string) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runes := len([]rune(text))
	if runes == 0 {
		return nil, nil
	}
	total := runes * m.sampleRate / 50
	samples := make([]int16, total)
	step := 2 * math.Pi * 440 / float64(m.sampleRate)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(step*float64(i)))
	}
	return samples, nil
}

// WritePCMToWav encodes 16-bit PCM samples as a WAV container.
func WritePCMToWav(file *os.File, pcm []int16, sampleRate, channels int) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
