// Package mock provides canned gateway implementations for local runs
// and tests.
package mock

import (
	"context"
	"encoding/binary"

	"github.com/voxbridge/voxbridge/pkg/codec"
	"github.com/voxbridge/voxbridge/pkg/gateways"
)

type Transcriber struct {
	Transcript string
	Err        error
	Calls      int
}

func (t *Transcriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	t.Calls++
	if t.Err != nil {
		return "", t.Err
	}
	if t.Transcript == "" {
		return "mock transcript", nil
	}
	return t.Transcript, nil
}

type Generator struct {
	Reply string
	Err   error
	Calls int
	// LastPrompt captures the most recent prompt for assertions.
	LastPrompt gateways.Prompt
}

func (g *Generator) Generate(ctx context.Context, p gateways.Prompt, onDelta func(string)) (string, error) {
	g.Calls++
	g.LastPrompt = p
	if g.Err != nil {
		return "", g.Err
	}
	reply := g.Reply
	if reply == "" {
		reply = "mock reply"
	}
	if onDelta != nil {
		onDelta(reply)
	}
	return reply, nil
}

// Synthesizer emits silence as pcm16 at 8 kHz, ChunkMillis of audio per
// chunk.
type Synthesizer struct {
	ChunkMillis int
	Chunks      int
	Err         error
	Calls       int
}

func (s *Synthesizer) Format() string  { return codec.FormatPCM16 }
func (s *Synthesizer) SampleRate() int { return 8000 }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan gateways.Chunk, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	millis := s.ChunkMillis
	if millis <= 0 {
		millis = 100
	}
	chunks := s.Chunks
	if chunks <= 0 {
		chunks = 3
	}
	out := make(chan gateways.Chunk, chunks+1)
	go func() {
		defer close(out)
		samples := 8000 * millis / 1000
		data := make([]byte, samples*2)
		for i := 0; i < samples; i++ {
			binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(1000)))
		}
		for i := 0; i < chunks; i++ {
			select {
			case out <- gateways.Chunk{Data: data}:
			case <-ctx.Done():
				return
			}
		}
		out <- gateways.Chunk{Final: true}
	}()
	return out, nil
}
