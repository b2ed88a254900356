package turns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/codec"
	"github.com/voxbridge/voxbridge/pkg/errorsx"
	"github.com/voxbridge/voxbridge/pkg/frames"
	"github.com/voxbridge/voxbridge/pkg/gateways"
	"github.com/voxbridge/voxbridge/pkg/session"
)

type captureTransport struct {
	mu     sync.Mutex
	frames []frames.Frame
}

func (c *captureTransport) Send(f frames.Frame) error {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *captureTransport) snapshot() []frames.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frames.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *captureTransport) audioFrames() []frames.AudioFrame {
	var out []frames.AudioFrame
	for _, f := range c.snapshot() {
		if af, ok := f.(frames.AudioFrame); ok {
			out = append(out, af)
		}
	}
	return out
}

func (c *captureTransport) controls(code frames.ControlCode) []frames.ControlFrame {
	var out []frames.ControlFrame
	for _, f := range c.snapshot() {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == code {
			out = append(out, cf)
		}
	}
	return out
}

func speakingCall(t *testing.T) *session.Call {
	t.Helper()
	c := session.NewCall("MZ1", "CA1", "", nil)
	for _, s := range []session.State{session.StateGreeting, session.StateListening} {
		if err := c.Transition(s); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	return c
}

func pcmChunks(t *testing.T, millis, count int) chan gateways.Chunk {
	t.Helper()
	ch := make(chan gateways.Chunk, count+1)
	samples := 8000 * millis / 1000
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		data[2*i] = 0xE8
		data[2*i+1] = 0x03 // 1000
	}
	for i := 0; i < count; i++ {
		ch <- gateways.Chunk{Data: data}
	}
	ch <- gateways.Chunk{Final: true}
	close(ch)
	return ch
}

func TestStreamSendsFixedFramesAndMark(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)

	// 40ms of pcm16 audio = two wire frames.
	err := s.Stream(context.Background(), call, codec.FormatPCM16, 8000, pcmChunks(t, 20, 2), "turn-1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	audio := tr.audioFrames()
	if len(audio) != 2 {
		t.Fatalf("sent %d audio frames, want 2", len(audio))
	}
	for _, af := range audio {
		if len(af.RawPayload()) != codec.FrameBytes {
			t.Fatalf("frame size %d, want %d", len(af.RawPayload()), codec.FrameBytes)
		}
		if af.Meta()[frames.MetaEncoding] != "mulaw" {
			t.Fatal("outbound frame missing mulaw encoding meta")
		}
	}

	marks := tr.controls(frames.ControlMark)
	if len(marks) != 1 {
		t.Fatalf("sent %d marks, want 1", len(marks))
	}
	if marks[0].Meta()[frames.MetaMarkName] != "turn-1" {
		t.Fatalf("mark name %q", marks[0].Meta()[frames.MetaMarkName])
	}
	// Mark follows the last audio frame.
	all := tr.snapshot()
	if _, ok := all[len(all)-1].(frames.ControlFrame); !ok {
		t.Fatal("mark is not the final frame")
	}
}

func TestStreamResamplesToWireRate(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)

	// 20ms at 16 kHz becomes 20ms at 8 kHz: one wire frame.
	ch := make(chan gateways.Chunk, 2)
	data := make([]byte, 320*2)
	ch <- gateways.Chunk{Data: data}
	ch <- gateways.Chunk{Final: true}
	close(ch)

	if err := s.Stream(context.Background(), call, codec.FormatPCM16, 16000, ch, ""); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := len(tr.audioFrames()); got != 1 {
		t.Fatalf("sent %d frames, want 1", got)
	}
}

func TestStreamStopsAfterDisconnect(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)
	if err := call.Transition(session.StateDisconnecting); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := call.Transition(session.StateDisconnected); err != nil {
		t.Fatalf("transition: %v", err)
	}

	err := s.Stream(context.Background(), call, codec.FormatPCM16, 8000, pcmChunks(t, 20, 2), "turn-1")
	if !errorsx.HasReason(err, errorsx.ReasonTransportClosed) {
		t.Fatalf("got %v, want transport_closed", err)
	}
	if len(tr.audioFrames()) != 0 {
		t.Fatal("audio sent to a disconnected call")
	}
}

func TestStreamHonorsWallClockBound(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{MaxStreamDuration: 30 * time.Millisecond})
	call := speakingCall(t)

	// Channel never closes and never delivers: the bound must cut in.
	ch := make(chan gateways.Chunk)
	defer close(ch)

	err := s.Stream(context.Background(), call, codec.FormatPCM16, 8000, ch, "")
	if !errorsx.HasReason(err, errorsx.ReasonStreamTimeout) {
		t.Fatalf("got %v, want stream_timeout", err)
	}
}

func TestStreamCancelledContext(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan gateways.Chunk)
	defer close(ch)

	if err := s.Stream(ctx, call, codec.FormatPCM16, 8000, ch, ""); err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStreamAbortsOnChunkError(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)

	ch := make(chan gateways.Chunk, 1)
	ch <- gateways.Chunk{Err: errorsx.Wrap(context.DeadlineExceeded, errorsx.ReasonSynthesize)}
	close(ch)

	err := s.Stream(context.Background(), call, codec.FormatPCM16, 8000, ch, "")
	if !errorsx.HasReason(err, errorsx.ReasonSynthesize) {
		t.Fatalf("got %v, want synthesize reason", err)
	}
}

func TestPlayClipPadsAndMarks(t *testing.T) {
	tr := &captureTransport{}
	s := NewSender(tr, SenderConfig{})
	call := speakingCall(t)

	clip := make([]byte, codec.FrameBytes+40)
	if err := s.PlayClip(context.Background(), call, clip, "fallback"); err != nil {
		t.Fatalf("play clip: %v", err)
	}
	if got := len(tr.audioFrames()); got != 2 {
		t.Fatalf("sent %d frames, want 2", got)
	}
	if len(tr.controls(frames.ControlMark)) != 1 {
		t.Fatal("missing mark after clip")
	}
}
