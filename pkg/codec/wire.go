package codec

import "time"

// Telephony wire framing: 8 kHz mu-law in 20 ms frames.
const (
	WireSampleRate   = 8000
	FrameBytes       = 160
	FrameDuration    = 20 * time.Millisecond
	muLawSilenceByte = 0xFF
)

// WireEncoder packs mu-law bytes into fixed-size wire frames, carrying
// any remainder until the next push.
type WireEncoder struct {
	buf []byte
}

func (e *WireEncoder) Push(mu []byte) [][]byte {
	e.buf = append(e.buf, mu...)
	var frames [][]byte
	for len(e.buf) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, e.buf[:FrameBytes])
		e.buf = e.buf[FrameBytes:]
		frames = append(frames, frame)
	}
	return frames
}

// Flush pads any buffered remainder with mu-law silence into one final
// frame. Returns nil when nothing is buffered.
func (e *WireEncoder) Flush() []byte {
	if len(e.buf) == 0 {
		return nil
	}
	frame := make([]byte, FrameBytes)
	copy(frame, e.buf)
	for i := len(e.buf); i < FrameBytes; i++ {
		frame[i] = muLawSilenceByte
	}
	e.buf = e.buf[:0]
	return frame
}
