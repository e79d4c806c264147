package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AuthConfig struct {
	TokenLength int `yaml:"token_length"`
}

type QuotaConfig struct {
	DefaultCharacterLimit int64 `yaml:"default_character_limit"`
	MaxTextChars          int   `yaml:"max_text_chars"`
}

// EngineConfig holds every acoustic parameter forwarded to the external
// synthesis command. SamplingRate and FramePeriod are overrides and are only
// forwarded when non-zero. Multiplicative fields default to 1.
type EngineConfig struct {
	Mode              string  `yaml:"mode"` // mock, exec
	Command           string  `yaml:"command"`
	Dictionary        string  `yaml:"dictionary"`
	Voice             string  `yaml:"voice"`
	SamplingRate      int     `yaml:"sampling_rate"`
	FramePeriod       int     `yaml:"frame_period"`
	AllPass           float64 `yaml:"all_pass"`
	PostfilterCoef    float64 `yaml:"postfilter_coef"`
	SpeedRate         float64 `yaml:"speed_rate"`
	HalfTone          float64 `yaml:"additional_half_tone"`
	UnvoicedThreshold float64 `yaml:"unvoiced_threshold"`
	SpectrumWeight    float64 `yaml:"spectrum_weight"`
	SpectrumF0        float64 `yaml:"spectrum_f0"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
}

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameDurationMS int `yaml:"frame_duration_ms"`
	MaxFrameBytes   int `yaml:"max_frame_bytes"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Auth        AuthConfig      `yaml:"auth"`
	Quota       QuotaConfig     `yaml:"quota"`
	Engine      EngineConfig    `yaml:"engine"`
	Audio       AudioConfig     `yaml:"audio"`
}

func Default() Config {
	return Config{
		ServiceName: "voicegate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/voicegate.db",
		},
		Auth: AuthConfig{
			TokenLength: 24,
		},
		Quota: QuotaConfig{
			DefaultCharacterLimit: 5000,
			MaxTextChars:          200,
		},
		Engine: EngineConfig{
			Mode:              "mock",
			Command:           "open_jtalk",
			SpeedRate:         1.0,
			UnvoicedThreshold: 0.5,
			SpectrumWeight:    1.0,
			SpectrumF0:        1.0,
			TimeoutMS:         45000,
			MaxConcurrent:     2,
		},
		Audio: AudioConfig{
			SampleRate:      48000,
			Channels:        1,
			FrameDurationMS: 20,
			MaxFrameBytes:   256,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOICEGATE_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICEGATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEGATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEGATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEGATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEGATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEGATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "VOICEGATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEGATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEGATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEGATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEGATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEGATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEGATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEGATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "VOICEGATE_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "VOICEGATE_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Auth.TokenLength, "VOICEGATE_AUTH_TOKEN_LENGTH")
	overrideInt64(&cfg.Quota.DefaultCharacterLimit, "VOICEGATE_QUOTA_DEFAULT_CHARACTER_LIMIT")
	overrideInt(&cfg.Quota.MaxTextChars, "VOICEGATE_QUOTA_MAX_TEXT_CHARS")
	overrideString(&cfg.Engine.Mode, "VOICEGATE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOICEGATE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Dictionary, "VOICEGATE_ENGINE_DICTIONARY")
	overrideString(&cfg.Engine.Voice, "VOICEGATE_ENGINE_VOICE")
	overrideInt(&cfg.Engine.SamplingRate, "VOICEGATE_ENGINE_SAMPLING_RATE")
	overrideInt(&cfg.Engine.FramePeriod, "VOICEGATE_ENGINE_FRAME_PERIOD")
	overrideFloat(&cfg.Engine.AllPass, "VOICEGATE_ENGINE_ALL_PASS")
	overrideFloat(&cfg.Engine.PostfilterCoef, "VOICEGATE_ENGINE_POSTFILTER_COEF")
	overrideFloat(&cfg.Engine.SpeedRate, "VOICEGATE_ENGINE_SPEED_RATE")
	overrideFloat(&cfg.Engine.HalfTone, "VOICEGATE_ENGINE_ADDITIONAL_HALF_TONE")
	overrideFloat(&cfg.Engine.UnvoicedThreshold, "VOICEGATE_ENGINE_UNVOICED_THRESHOLD")
	overrideFloat(&cfg.Engine.SpectrumWeight, "VOICEGATE_ENGINE_SPECTRUM_WEIGHT")
	overrideFloat(&cfg.Engine.SpectrumF0, "VOICEGATE_ENGINE_SPECTRUM_F0")
	overrideInt(&cfg.Engine.TimeoutMS, "VOICEGATE_ENGINE_TIMEOUT_MS")
	overrideInt(&cfg.Engine.MaxConcurrent, "VOICEGATE_ENGINE_MAX_CONCURRENT")
	overrideInt(&cfg.Audio.SampleRate, "VOICEGATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICEGATE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "VOICEGATE_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.MaxFrameBytes, "VOICEGATE_AUDIO_MAX_FRAME_BYTES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Auth.TokenLength < 8 {
		return errors.New("auth.token_length must be >= 8")
	}
	if cfg.Quota.DefaultCharacterLimit <= 0 {
		return errors.New("quota.default_character_limit must be positive")
	}
	if cfg.Quota.MaxTextChars <= 0 {
		return errors.New("quota.max_text_chars must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" {
		if cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
		if cfg.Engine.Dictionary == "" {
			return errors.New("engine.dictionary must be set when mode=exec")
		}
		if cfg.Engine.Voice == "" {
			return errors.New("engine.voice must be set when mode=exec")
		}
	}
	if cfg.Engine.SpeedRate <= 0 {
		return errors.New("engine.speed_rate must be positive")
	}
	if cfg.Engine.TimeoutMS <= 0 {
		return errors.New("engine.timeout_ms must be positive")
	}
	if cfg.Engine.MaxConcurrent <= 0 {
		return errors.New("engine.max_concurrent must be >= 1")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono)")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.SampleRate*cfg.Audio.FrameDurationMS%1000 != 0 {
		return errors.New("audio.frame_duration_ms must yield a whole number of samples")
	}
	if cfg.Audio.MaxFrameBytes <= 0 {
		return errors.New("audio.max_frame_bytes must be positive")
	}
	return nil
}
