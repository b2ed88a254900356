// Package deepgram transcribes buffered caller utterances with the
// Deepgram prerecorded REST API.
package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/logging"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	// Keywords are boosted during recognition, e.g. product names the
	// agent expects to hear.
	Keywords []string
}

type Transcriber struct {
	cfg    Config
	client *api.Client
	log    *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		client: api.New(c),
		log:    logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

// Transcribe sends one utterance of linear PCM and returns the top
// transcript. A single attempt: the turn loop owns the retry budget.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(uint16(s) >> 8)
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:      t.cfg.Model,
		Language:   t.cfg.Language,
		Encoding:   "linear16",
		SampleRate: sampleRate,
		Punctuate:  true,
	}
	if len(t.cfg.Keywords) > 0 {
		options.Keywords = t.cfg.Keywords
	}

	started := time.Now()
	res, err := t.client.FromStream(ctx, bytes.NewReader(raw), options)
	if err != nil {
		t.log.Warn("deepgram_request_failed",
			slog.String("error", err.Error()))
		return "", errorsx.Wrap(fmt.Errorf("deepgram transcription: %w", err), errorsx.ReasonTranscribe)
	}
	transcript := topTranscript(res)

	t.log.Debug("transcript_received",
		slog.String("transcript", transcript),
		slog.Int("samples", len(pcm)),
		slog.Duration("latency", time.Since(started)))
	return strings.TrimSpace(transcript), nil
}

func topTranscript(res *restinterfaces.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}
	channels := res.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		return ""
	}
	return channels[0].Alternatives[0].Transcript
}
