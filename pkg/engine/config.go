package engine

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	RedactPII   bool            `mapstructure:"redact_pii"`
	Agent       AgentConfig     `mapstructure:"agent"`
	Endpoint    EndpointConfig  `mapstructure:"endpointing"`
	Turns       TurnsConfig     `mapstructure:"turns"`
	Transport   VendorConfig    `mapstructure:"transport"`
	Vendors     VendorsConfig   `mapstructure:"vendors"`
	Outbound    OutboundConfig  `mapstructure:"outbound"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type AgentConfig struct {
	SystemPrompt string   `mapstructure:"system_prompt"`
	Greeting     string   `mapstructure:"greeting"`
	FillerTokens []string `mapstructure:"filler_tokens"`
	// FallbackClipPath points at a base64-encoded 8 kHz mu-law clip
	// spoken when a gateway fails mid-call.
	FallbackClipPath string `mapstructure:"fallback_clip_path"`
}

type EndpointConfig struct {
	EnergyThreshold float64 `mapstructure:"energy_threshold"`
	SilenceMS       int     `mapstructure:"silence_ms"`
	MinUtteranceMS  int     `mapstructure:"min_utterance_ms"`
}

type TurnsConfig struct {
	RetryMax         int `mapstructure:"retry_max"`
	RetryBackoffMS   int `mapstructure:"retry_backoff_ms"`
	MaxStreamSeconds int `mapstructure:"max_stream_seconds"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	LLM VendorConfig `mapstructure:"llm"`
	TTS VendorConfig `mapstructure:"tts"`
}

type OutboundConfig struct {
	To   string `mapstructure:"to"`
	From string `mapstructure:"from"`
}

type MetricsConfig struct {
	Buffer int `mapstructure:"buffer"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("endpointing.energy_threshold", 500)
	v.SetDefault("endpointing.silence_ms", 1500)
	v.SetDefault("endpointing.min_utterance_ms", 500)
	v.SetDefault("turns.retry_max", 2)
	v.SetDefault("turns.retry_backoff_ms", 200)
	v.SetDefault("turns.max_stream_seconds", 30)
	v.SetDefault("metrics.buffer", 256)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if c.Endpoint.SilenceMS < 0 || c.Endpoint.MinUtteranceMS < 0 {
		return fmt.Errorf("endpointing durations must be non-negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
