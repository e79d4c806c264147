package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/voicegate-labs/voicegate/internal/config"
)

// OpenJTalk invokes the open_jtalk command for each synthesis request. Text
// goes in through a temporary input file, audio comes back through a
// temporary output file; both are uniquely named per invocation and removed
// on every exit path.
type OpenJTalk struct {
	cmd []string
	cfg config.EngineConfig
	log *slog.Logger
}

func NewOpenJTalk(cfg config.EngineConfig, log *slog.Logger) (*OpenJTalk, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &OpenJTalk{
		cmd: args,
		cfg: cfg,
		log: log.With(slog.String("component", "openjtalk")),
	}, nil
}

func (e *OpenJTalk) Generate(ctx context.Context, text string) ([]byte, error) {
	var container []byte
	err := e.run(ctx, text, func(outPath string) error {
		data, err := os.ReadFile(outPath)
		if err != nil {
			return fmt.Errorf("read synthesis output: %w", err)
		}
		container = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return container, nil
}

func (e *OpenJTalk) GeneratePCM(ctx context.Context, text string) ([]int16, error) {
	var samples []int16
	err := e.run(ctx, text, func(outPath string) error {
		file, err := os.Open(outPath)
		if err != nil {
			return fmt.Errorf("open synthesis output: %w", err)
		}
		defer file.Close()

		decoded, err := DecodePCM16(file)
		if err != nil {
			return err
		}
		samples = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

func (e *OpenJTalk) run(ctx context.Context, text string, handle func(outPath string) error) error {
	in, err := os.CreateTemp("", "voicegate_in_*.txt")
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	defer os.Remove(in.Name())

	out, err := os.CreateTemp("", "voicegate_out_*.wav")
	if err != nil {
		in.Close()
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(out.Name())
	out.Close()

	if _, err := in.WriteString(text); err != nil {
		in.Close()
		return fmt.Errorf("write input text: %w", err)
	}
	if err := in.Close(); err != nil {
		return fmt.Errorf("close input file: %w", err)
	}

	base := e.cmd[0]
	args := append(append([]string{}, e.cmd[1:]...), e.args(in.Name(), out.Name())...)
	cmd := exec.CommandContext(ctx, base, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &SpawnError{Err: err}
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Code:   exitErr.ExitCode(),
			}
		}
		return &SpawnError{Err: err}
	}
	e.log.Debug("synthesis complete", slog.Int("text_bytes", len(text)))

	return handle(out.Name())
}

// args maps the engine configuration to the open_jtalk flag form. The
// sampling and frame period overrides are only passed when set.
func (e *OpenJTalk) args(inPath, outPath string) []string {
	args := []string{
		"-x", e.cfg.Dictionary,
		"-m", e.cfg.Voice,
	}
	if e.cfg.SamplingRate > 0 {
		args = append(args, "-s", strconv.Itoa(e.cfg.SamplingRate))
	}
	if e.cfg.FramePeriod > 0 {
		args = append(args, "-p", strconv.Itoa(e.cfg.FramePeriod))
	}
	args = append(args,
		"-a", formatFloat(e.cfg.AllPass),
		"-b", formatFloat(e.cfg.PostfilterCoef),
		"-r", formatFloat(e.cfg.SpeedRate),
		"-fm", formatFloat(e.cfg.HalfTone),
		"-u", formatFloat(e.cfg.UnvoicedThreshold),
		"-jm", formatFloat(e.cfg.SpectrumWeight),
		"-jf", formatFloat(e.cfg.SpectrumF0),
		"-ow", outPath,
		inPath,
	)
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// DecodePCM16 extracts 16-bit linear PCM samples from a WAV stream. Any
// other bit depth is a data error.
func DecodePCM16(rs io.ReadSeeker) ([]int16, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, &DataError{Reason: "not a wav container"}
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, &DataError{Reason: fmt.Sprintf("decode pcm: %v", err)}
	}
	if decoder.BitDepth != 16 {
		return nil, &DataError{Reason: fmt.Sprintf("expected 16-bit pcm, got %d-bit", decoder.BitDepth)}
	}
	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}
	return samples, nil
}
