// Package elevenlabs renders reply text with the ElevenLabs
// stream-input websocket API, one connection per synthesis.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/codec"
	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/logging"
	"github.com/voxbridge/voxbridge/pkg/resilience"
)

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	// OutputFormat is an ElevenLabs format name such as
	// "mp3_44100_128" or "pcm_16000".
	OutputFormat string
	Stability    float64
	Similarity   float64
}

type Synthesizer struct {
	cfg    Config
	format string
	rate   int
	log    *slog.Logger
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	format, rate, err := parseOutputFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{
		cfg:    cfg,
		format: format,
		rate:   rate,
		log:    logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}, nil
}

func (s *Synthesizer) Name() string    { return "elevenlabs" }
func (s *Synthesizer) Format() string  { return s.format }
func (s *Synthesizer) SampleRate() int { return s.rate }

func parseOutputFormat(of string) (string, int, error) {
	parts := strings.Split(of, "_")
	if len(parts) < 2 {
		return "", 0, errors.New("unrecognized output format " + of)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, errors.New("unrecognized output format " + of)
	}
	switch parts[0] {
	case "mp3":
		return codec.FormatMP3, 0, nil
	case "pcm":
		return codec.FormatPCM16, rate, nil
	default:
		return "", 0, errors.New("unsupported output format " + of)
	}
}

// Synthesize opens a stream-input connection, sends the whole reply,
// and emits audio chunks until the provider marks the stream final.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan gateways.Chunk, error) {
	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonGatewayRateLimit)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
	}

	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        s.cfg.Stability,
			"similarity_boost": s.cfg.Similarity,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	for _, payload := range []map[string]any{
		init,
		{"text": text, "try_trigger_generation": true},
		{"text": ""}, // end of input
	} {
		if err := writeJSON(conn, payload); err != nil {
			_ = conn.Close()
			return nil, errorsx.Wrap(err, errorsx.ReasonSynthesize)
		}
	}

	out := make(chan gateways.Chunk, 64)
	go s.readLoop(ctx, conn, out)
	return out, nil
}

func (s *Synthesizer) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- gateways.Chunk) {
	defer close(out)
	defer conn.Close()

	// Unblock ReadMessage when the turn is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case out <- gateways.Chunk{Final: true}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- gateways.Chunk{Err: errorsx.Wrap(err, errorsx.ReasonSynthesize)}:
			case <-ctx.Done():
			}
			return
		}

		var msg struct {
			Audio   string          `json:"audio"`
			IsFinal bool            `json:"isFinal"`
			Error   json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("tts_unparseable_message", slog.Int("size_bytes", len(data)))
			continue
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.log.Warn("tts_audio_decode_error", slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- gateways.Chunk{Data: raw}:
			case <-ctx.Done():
				return
			}
		}
		if msg.IsFinal {
			select {
			case out <- gateways.Chunk{Final: true}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func (s *Synthesizer) buildURL() string {
	host := s.cfg.BaseURL
	if host == "" {
		host = "wss://api.elevenlabs.io"
	}
	base := host + "/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func writeJSON(conn *websocket.Conn, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
