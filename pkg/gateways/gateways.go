// Package gateways defines the provider-facing interfaces a turn runs
// against: speech-to-text, reply generation, and text-to-speech.
package gateways

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/session"
)

// Prompt carries everything a generator needs for one reply.
type Prompt struct {
	System   string
	History  []session.Exchange
	UserText string
}

// Transcriber converts one buffered utterance of 16-bit mono PCM into
// text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// Generator produces the agent's reply text. When onDelta is non-nil it
// receives text increments as the provider streams them; the full reply
// is returned either way.
type Generator interface {
	Generate(ctx context.Context, p Prompt, onDelta func(delta string)) (string, error)
}

// Chunk is one piece of a synthesis stream. Err terminates the stream;
// Final marks a clean end.
type Chunk struct {
	Data  []byte
	Err   error
	Final bool
}

// Synthesizer renders reply text as compressed audio chunks. The
// channel closes after the Final (or Err) chunk.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan Chunk, error)

	// Format names the stream encoding ("pcm16" or "mp3").
	Format() string

	// SampleRate of pcm16 output; zero for mp3, whose rate comes from
	// the frames themselves.
	SampleRate() int
}
