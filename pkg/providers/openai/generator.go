// Package openai generates agent replies with the OpenAI chat
// completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/resilience"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

type Generator struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Generator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 150
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Generator) Name() string { return "openai" }

// Generate streams a chat completion and returns the assembled reply.
func (g *Generator) Generate(ctx context.Context, p gateways.Prompt, onDelta func(string)) (string, error) {
	body, err := g.buildRequest(p)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerate)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", body)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerate)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: string(msg)}, errorsx.ReasonGatewayRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return "", errorsx.Wrap(errors.New(string(msg)), errorsx.ReasonGenerate)
	}

	var reply strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		choices, _ := chunk["choices"].([]any)
		if len(choices) == 0 {
			continue
		}
		first, _ := choices[0].(map[string]any)
		delta, _ := first["delta"].(map[string]any)
		if text, _ := delta["content"].(string); text != "" {
			reply.WriteString(text)
			if onDelta != nil {
				onDelta(text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errorsx.Wrap(err, errorsx.ReasonGenerateStream)
	}
	return strings.TrimSpace(reply.String()), nil
}

func (g *Generator) buildRequest(p gateways.Prompt) (*bytes.Buffer, error) {
	messages := make([]map[string]any, 0, 2*len(p.History)+2)
	if p.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": p.System})
	}
	for _, ex := range p.History {
		messages = append(messages, map[string]any{"role": "user", "content": ex.Caller})
		messages = append(messages, map[string]any{"role": "assistant", "content": ex.Agent})
	}
	messages = append(messages, map[string]any{"role": "user", "content": p.UserText})

	req := map[string]any{
		"model":      g.cfg.Model,
		"stream":     true,
		"messages":   messages,
		"max_tokens": g.cfg.MaxTokens,
	}
	if g.cfg.Temperature > 0 {
		req["temperature"] = g.cfg.Temperature
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}
