package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxbridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
transport:
  provider: twilio
vendors:
  stt:
    provider: mock
  llm:
    provider: mock
  tts:
    provider: mock
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint.EnergyThreshold != 500 {
		t.Fatalf("energy threshold = %v, want 500", cfg.Endpoint.EnergyThreshold)
	}
	if cfg.Endpoint.SilenceMS != 1500 {
		t.Fatalf("silence_ms = %d, want 1500", cfg.Endpoint.SilenceMS)
	}
	if cfg.Endpoint.MinUtteranceMS != 500 {
		t.Fatalf("min_utterance_ms = %d, want 500", cfg.Endpoint.MinUtteranceMS)
	}
	if cfg.Turns.RetryMax != 2 || cfg.Turns.RetryBackoffMS != 200 {
		t.Fatalf("retry defaults = %d/%d", cfg.Turns.RetryMax, cfg.Turns.RetryBackoffMS)
	}
	if cfg.Turns.MaxStreamSeconds != 30 {
		t.Fatalf("max_stream_seconds = %d, want 30", cfg.Turns.MaxStreamSeconds)
	}
	if cfg.Metrics.Buffer != 256 {
		t.Fatalf("metrics buffer = %d, want 256", cfg.Metrics.Buffer)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("log defaults = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VB_TEST_KEY", "sk-12345")
	t.Setenv("VB_TEST_GREETING", "hello there")

	cfg, err := LoadConfig(writeConfig(t, `
agent:
  greeting: "${VB_TEST_GREETING}"
transport:
  provider: twilio
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: "${VB_TEST_KEY}"
      keywords:
        - "${VB_TEST_GREETING}"
  llm:
    provider: mock
  tts:
    provider: mock
`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.Greeting != "hello there" {
		t.Fatalf("greeting = %q", cfg.Agent.Greeting)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "sk-12345" {
		t.Fatalf("api_key = %v", got)
	}
	kws, ok := cfg.Vendors.STT.Settings["keywords"].([]any)
	if !ok || len(kws) != 1 || kws[0] != "hello there" {
		t.Fatalf("keywords = %v", cfg.Vendors.STT.Settings["keywords"])
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing transport": `
vendors:
  stt:
    provider: mock
  llm:
    provider: mock
  tts:
    provider: mock
`,
		"missing llm": `
transport:
  provider: twilio
vendors:
  stt:
    provider: mock
  tts:
    provider: mock
`,
	}
	for name, body := range cases {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
