package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/voicegate-labs/voicegate/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Mode:              "exec",
		Command:           "open_jtalk",
		Dictionary:        "/usr/share/open_jtalk/dic",
		Voice:             "/usr/share/hts-voice/mei.htsvoice",
		PostfilterCoef:    0.0,
		SpeedRate:         1.0,
		HalfTone:          0.0,
		UnvoicedThreshold: 0.5,
		SpectrumWeight:    1.0,
		SpectrumF0:        1.0,
	}
}

func TestArgsMapping(t *testing.T) {
	e, err := NewOpenJTalk(testEngineConfig(), newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got := e.args("in.txt", "out.wav")
	want := []string{
		"-x", "/usr/share/open_jtalk/dic",
		"-m", "/usr/share/hts-voice/mei.htsvoice",
		"-a", "0",
		"-b", "0",
		"-r", "1",
		"-fm", "0",
		"-u", "0.5",
		"-jm", "1",
		"-jf", "1",
		"-ow", "out.wav",
		"in.txt",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", got, want)
	}
}

func TestArgsMappingWithOverrides(t *testing.T) {
	cfg := testEngineConfig()
	cfg.SamplingRate = 48000
	cfg.FramePeriod = 240
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	got := e.args("in.txt", "out.wav")
	assertPair := func(flag, value string) {
		t.Helper()
		for i := 0; i < len(got)-1; i++ {
			if got[i] == flag && got[i+1] == value {
				return
			}
		}
		t.Fatalf("expected %s %s in args %v", flag, value, got)
	}
	assertPair("-s", "48000")
	assertPair("-p", "240")
}

func TestCommandWithExtraWords(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Command = "nice -n 10 open_jtalk"
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if len(e.cmd) != 4 || e.cmd[0] != "nice" {
		t.Fatalf("unexpected parsed command %v", e.cmd)
	}
}

func TestGenerateSpawnError(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Command = filepath.Join(t.TempDir(), "missing-binary")
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = e.Generate(context.Background(), "hello")
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
}

func TestGenerateExitErrorCapturesStderr(t *testing.T) {
	script := filepath.Join(t.TempDir(), "failing.sh")
	content := "#!/bin/sh\necho \"unknown dictionary\" >&2\nexit 1\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg := testEngineConfig()
	cfg.Command = script
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	_, err = e.Generate(context.Background(), "hello")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.Code)
	}
	if !strings.Contains(exitErr.Stderr, "unknown dictionary") {
		t.Fatalf("expected captured stderr, got %q", exitErr.Stderr)
	}
}

func TestGenerateSuccessThroughStubCommand(t *testing.T) {
	tmp := t.TempDir()

	// A stub in place of open_jtalk: find the -ow argument and copy a
	// prepared container there.
	sample := filepath.Join(tmp, "sample.wav")
	file, err := os.Create(sample)
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	if err := WritePCMToWav(file, pcm, 48000, 1); err != nil {
		t.Fatalf("write sample wav: %v", err)
	}
	file.Close()

	script := filepath.Join(tmp, "stub.sh")
	content := fmt.Sprintf("#!/bin/sh\nprev=\"\"\nfor a in \"$@\"; do\n  if [ \"$prev\" = \"-ow\" ]; then out=\"$a\"; fi\n  prev=\"$a\"\ndone\ncp %q \"$out\"\n", sample)
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg := testEngineConfig()
	cfg.Command = script
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	container, err := e.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(container) == 0 {
		t.Fatal("expected container bytes")
	}

	samples, err := e.GeneratePCM(context.Background(), "hello")
	if err != nil {
		t.Fatalf("generate pcm: %v", err)
	}
	if !reflect.DeepEqual(samples, pcm) {
		t.Fatalf("decoded pcm does not match source: got %d samples", len(samples))
	}
}

func TestRunRemovesTempFiles(t *testing.T) {
	script := filepath.Join(t.TempDir(), "failing.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	cfg := testEngineConfig()
	cfg.Command = script
	e, err := NewOpenJTalk(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	before := countTempFiles(t)
	if _, err := e.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected engine failure")
	}
	if after := countTempFiles(t); after != before {
		t.Fatalf("temp files leaked: %d before, %d after", before, after)
	}
}

func countTempFiles(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "voicegate_*"))
	if err != nil {
		t.Fatalf("glob temp dir: %v", err)
	}
	return len(matches)
}

func TestDecodePCM16RejectsGarbage(t *testing.T) {
	_, err := DecodePCM16(bytes.NewReader([]byte("definitely not a wav container")))
	var dataErr *DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataError, got %v", err)
	}
}
