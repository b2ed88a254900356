package engine

import (
	"context"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/providers/mock"
)

func TestBuildTranscriberMock(t *testing.T) {
	stt, err := BuildTranscriber(VendorConfig{
		Provider: "mock",
		Settings: map[string]any{"transcript": "book a table"},
	})
	if err != nil {
		t.Fatalf("BuildTranscriber: %v", err)
	}
	got, err := stt.Transcribe(context.Background(), []int16{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "book a table" {
		t.Fatalf("transcript = %q", got)
	}
}

func TestBuildTranscriberUnknown(t *testing.T) {
	if _, err := BuildTranscriber(VendorConfig{Provider: "whisperx"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestBuildTranscriberDeepgramRequiresKey(t *testing.T) {
	_, err := BuildTranscriber(VendorConfig{
		Provider: "deepgram",
		Settings: map[string]any{"model": "nova-2"},
	})
	if err == nil {
		t.Fatal("expected missing api_key error")
	}
}

func TestBuildGeneratorMock(t *testing.T) {
	llm, err := BuildGenerator(VendorConfig{
		Provider: "mock",
		Settings: map[string]any{"reply": "Sure, one moment."},
	})
	if err != nil {
		t.Fatalf("BuildGenerator: %v", err)
	}
	if _, ok := llm.(*mock.Generator); !ok {
		t.Fatalf("generator type = %T", llm)
	}
}

func TestBuildSynthesizerElevenLabsRequiresVoice(t *testing.T) {
	_, err := BuildSynthesizer(VendorConfig{
		Provider: "elevenlabs",
		Settings: map[string]any{"api_key": "xi-key"},
	})
	if err == nil {
		t.Fatal("expected missing voice_id error")
	}
}

func TestBuildTransportUnknown(t *testing.T) {
	if _, err := BuildTransport(VendorConfig{Provider: "vonage"}); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}
