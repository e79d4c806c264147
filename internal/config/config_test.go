package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Auth.TokenLength != 24 {
		t.Fatalf("expected default token length 24, got %d", cfg.Auth.TokenLength)
	}
	if cfg.Quota.DefaultCharacterLimit != 5000 {
		t.Fatalf("expected default character limit 5000, got %d", cfg.Quota.DefaultCharacterLimit)
	}
	if cfg.Quota.MaxTextChars != 200 {
		t.Fatalf("expected default max text chars 200, got %d", cfg.Quota.MaxTextChars)
	}
	if cfg.Engine.Mode != "mock" {
		t.Fatalf("expected default engine mode mock, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.SpeedRate != 1.0 {
		t.Fatalf("expected default speed rate 1.0, got %v", cfg.Engine.SpeedRate)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameDurationMS != 20 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "voicegate.yaml")
	data := []byte(`
engine:
  mode: exec
  command: "nice -n 10 open_jtalk"
  dictionary: /usr/share/open_jtalk/dic
  voice: /usr/share/hts-voice/mei.htsvoice
  speed_rate: 1.2
quota:
  default_character_limit: 10000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "exec" {
		t.Fatalf("expected engine mode exec, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.Command != "nice -n 10 open_jtalk" {
		t.Fatalf("unexpected engine command %q", cfg.Engine.Command)
	}
	if cfg.Engine.SpeedRate != 1.2 {
		t.Fatalf("expected speed rate 1.2, got %v", cfg.Engine.SpeedRate)
	}
	if cfg.Quota.DefaultCharacterLimit != 10000 {
		t.Fatalf("expected character limit 10000, got %d", cfg.Quota.DefaultCharacterLimit)
	}
	// Untouched sections keep defaults.
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected audio defaults preserved, got %+v", cfg.Audio)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEGATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEGATE_BUS_USERNAME", "alice")
	t.Setenv("VOICEGATE_BUS_TLS_INSECURE", "true")
	t.Setenv("VOICEGATE_STORE_PATH", "./tmp.db")
	t.Setenv("VOICEGATE_AUTH_TOKEN_LENGTH", "32")
	t.Setenv("VOICEGATE_QUOTA_DEFAULT_CHARACTER_LIMIT", "2500")
	t.Setenv("VOICEGATE_QUOTA_MAX_TEXT_CHARS", "120")
	t.Setenv("VOICEGATE_ENGINE_SPEED_RATE", "0.8")
	t.Setenv("VOICEGATE_ENGINE_TIMEOUT_MS", "10000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" {
		t.Fatalf("expected username override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Auth.TokenLength != 32 {
		t.Fatalf("expected token length 32, got %d", cfg.Auth.TokenLength)
	}
	if cfg.Quota.DefaultCharacterLimit != 2500 {
		t.Fatalf("expected character limit 2500, got %d", cfg.Quota.DefaultCharacterLimit)
	}
	if cfg.Quota.MaxTextChars != 120 {
		t.Fatalf("expected max text chars 120, got %d", cfg.Quota.MaxTextChars)
	}
	if cfg.Engine.SpeedRate != 0.8 {
		t.Fatalf("expected speed rate 0.8, got %v", cfg.Engine.SpeedRate)
	}
	if cfg.Engine.TimeoutMS != 10000 {
		t.Fatalf("expected timeout 10000, got %d", cfg.Engine.TimeoutMS)
	}
}

func TestValidateRejectsBadEngineMode(t *testing.T) {
	t.Setenv("VOICEGATE_ENGINE_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown engine mode")
	}
}

func TestValidateExecRequiresVoiceData(t *testing.T) {
	t.Setenv("VOICEGATE_ENGINE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when dictionary and voice are unset")
	}
}

func TestValidateRejectsShortToken(t *testing.T) {
	t.Setenv("VOICEGATE_AUTH_TOKEN_LENGTH", "4")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for short token length")
	}
}
