package codec

import "testing"

func TestWireEncoderEmitsFixedFrames(t *testing.T) {
	var enc WireEncoder
	if frames := enc.Push(make([]byte, 100)); frames != nil {
		t.Fatalf("got %d frames before a full frame accumulated", len(frames))
	}
	frames := enc.Push(make([]byte, 100))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if len(frames[0]) != FrameBytes {
		t.Fatalf("frame size %d, want %d", len(frames[0]), FrameBytes)
	}
}

func TestWireEncoderFlushPadsWithSilence(t *testing.T) {
	var enc WireEncoder
	enc.Push([]byte{0x01, 0x02, 0x03})
	frame := enc.Flush()
	if len(frame) != FrameBytes {
		t.Fatalf("frame size %d, want %d", len(frame), FrameBytes)
	}
	if frame[0] != 0x01 || frame[2] != 0x03 {
		t.Fatal("buffered bytes not preserved")
	}
	for i := 3; i < FrameBytes; i++ {
		if frame[i] != 0xFF {
			t.Fatalf("byte %d is 0x%02x, want mu-law silence", i, frame[i])
		}
	}
	if enc.Flush() != nil {
		t.Fatal("second flush should be empty")
	}
}

func TestWireEncoderSplitsLargePush(t *testing.T) {
	var enc WireEncoder
	frames := enc.Push(make([]byte, FrameBytes*3+10))
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if enc.Flush() == nil {
		t.Fatal("expected a padded remainder frame")
	}
}
