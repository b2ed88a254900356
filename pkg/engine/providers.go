package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/pkg/configutil"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/providers/deepgram"
	"github.com/voxbridge/voxbridge/pkg/providers/elevenlabs"
	"github.com/voxbridge/voxbridge/pkg/providers/mock"
	"github.com/voxbridge/voxbridge/pkg/providers/openai"
	"github.com/voxbridge/voxbridge/pkg/resilience"
	"github.com/voxbridge/voxbridge/pkg/transport"
	twiliotransport "github.com/voxbridge/voxbridge/pkg/transport/twilio"
)

// BuildTransport constructs the configured telephony transport.
func BuildTransport(cfg VendorConfig) (transport.Transport, error) {
	switch strings.ToLower(cfg.Provider) {
	case "twilio":
		var tc twiliotransport.Config
		if err := configutil.DecodeSettings(cfg.Settings, &tc); err != nil {
			return nil, fmt.Errorf("twilio settings: %w", err)
		}
		return twiliotransport.New(tc), nil
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

// BuildTranscriber constructs the configured speech-to-text gateway.
func BuildTranscriber(cfg VendorConfig) (gateways.Transcriber, error) {
	switch strings.ToLower(cfg.Provider) {
	case "deepgram":
		var dc struct {
			APIKey   string   `mapstructure:"api_key"`
			Model    string   `mapstructure:"model"`
			Language string   `mapstructure:"language"`
			Keywords []string `mapstructure:"keywords"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &dc); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		if err := configutil.RequireString(dc.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(deepgram.Config{
			APIKey:   dc.APIKey,
			Model:    dc.Model,
			Language: dc.Language,
			Keywords: dc.Keywords,
		}), nil
	case "mock":
		var mc struct {
			Transcript string `mapstructure:"transcript"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &mc); err != nil {
			return nil, err
		}
		return &mock.Transcriber{Transcript: mc.Transcript}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

// BuildGenerator constructs the configured reply generator.
func BuildGenerator(cfg VendorConfig) (gateways.Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		var oc struct {
			APIKey      string  `mapstructure:"api_key"`
			Model       string  `mapstructure:"model"`
			BaseURL     string  `mapstructure:"base_url"`
			Temperature float64 `mapstructure:"temperature"`
			MaxTokens   int     `mapstructure:"max_tokens"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &oc); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		if err := configutil.RequireString(oc.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		return openai.New(openai.Config{
			APIKey:      oc.APIKey,
			Model:       oc.Model,
			BaseURL:     oc.BaseURL,
			Temperature: oc.Temperature,
			MaxTokens:   oc.MaxTokens,
		}), nil
	case "mock":
		var mc struct {
			Reply string `mapstructure:"reply"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &mc); err != nil {
			return nil, err
		}
		return &mock.Generator{Reply: mc.Reply}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// BuildSynthesizer constructs the configured text-to-speech gateway.
func BuildSynthesizer(cfg VendorConfig) (gateways.Synthesizer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "elevenlabs":
		var ec struct {
			APIKey       string  `mapstructure:"api_key"`
			VoiceID      string  `mapstructure:"voice_id"`
			ModelID      string  `mapstructure:"model_id"`
			BaseURL      string  `mapstructure:"base_url"`
			OutputFormat string  `mapstructure:"output_format"`
			Stability    float64 `mapstructure:"stability"`
			Similarity   float64 `mapstructure:"similarity"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &ec); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		if err := configutil.RequireString(ec.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(ec.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       ec.APIKey,
			VoiceID:      ec.VoiceID,
			ModelID:      ec.ModelID,
			BaseURL:      ec.BaseURL,
			OutputFormat: ec.OutputFormat,
			Stability:    ec.Stability,
			Similarity:   ec.Similarity,
		})
	case "mock":
		return &mock.Synthesizer{}, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
	}
}

// RetryPolicy derives the shared gateway retry policy from config.
func (c Config) RetryPolicy() resilience.RetryPolicy {
	return resilience.NewRetryPolicy(c.Turns.RetryMax, time.Duration(c.Turns.RetryBackoffMS)*time.Millisecond)
}
