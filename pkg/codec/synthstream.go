package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/voxbridge/voxbridge/pkg/errorsx"
)

// Synthesis output formats a StreamDecoder accepts.
const (
	FormatPCM16 = "pcm16"
	FormatMP3   = "mp3"
)

const (
	decodeAbortMinChunks = 4
)

// DecodeAbortError reports that too many chunks of a synthesis stream
// failed to decode for the remainder to be trusted.
type DecodeAbortError struct {
	Failed int
	Total  int
}

func (e DecodeAbortError) Error() string {
	return fmt.Sprintf("synthesis stream unusable: %d of %d chunks failed to decode", e.Failed, e.Total)
}

// StreamDecoder incrementally decodes a provider's synthesis stream into
// mono 16-bit PCM. Chunks arrive on arbitrary byte boundaries; partial
// samples and partial frames carry over to the next call.
type StreamDecoder interface {
	// Decode consumes one stream chunk and returns the samples it
	// completed. A chunk that cannot be decoded returns an error with
	// reason SYNTHESIS_DECODE_CHUNK and may be skipped; once the
	// failure rate crosses half the stream the error carries
	// SYNTHESIS_DECODE_ABORT and the stream must be abandoned.
	Decode(chunk []byte) ([]int16, error)

	// SampleRate reports the source rate of decoded samples. For mp3
	// it is zero until the first frame has been decoded.
	SampleRate() int
}

func NewStreamDecoder(format string, sampleRate int) (StreamDecoder, error) {
	switch format {
	case FormatPCM16:
		if sampleRate <= 0 {
			return nil, fmt.Errorf("pcm16 stream decoder requires a sample rate")
		}
		return &pcm16Decoder{rate: sampleRate}, nil
	case FormatMP3:
		return &mp3Decoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported synthesis format %q", format)
	}
}

// pcm16Decoder reads little-endian 16-bit mono samples, holding back a
// trailing odd byte until its pair arrives.
type pcm16Decoder struct {
	rate  int
	carry []byte
}

func (d *pcm16Decoder) SampleRate() int { return d.rate }

func (d *pcm16Decoder) Decode(chunk []byte) ([]int16, error) {
	data := chunk
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
		d.carry = nil
	}
	n := len(data) / 2
	if len(data)%2 == 1 {
		d.carry = []byte{data[len(data)-1]}
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return out, nil
}

// MPEG-1 Layer III frame tables.
var (
	mp3Bitrates    = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mp3SampleRates = [4]int{44100, 48000, 32000, 0}
)

// mp3Decoder scans for complete MPEG-1 Layer III frames in the buffered
// stream and decodes each run of frames as a unit. A trailing partial
// frame waits for the next chunk.
type mp3Decoder struct {
	buf    bytes.Buffer
	rate   int
	failed int
	total  int
}

func (d *mp3Decoder) SampleRate() int { return d.rate }

func (d *mp3Decoder) Decode(chunk []byte) ([]int16, error) {
	d.total++
	d.buf.Write(chunk)

	frames := d.extractFrames()
	if len(frames) == 0 {
		return nil, nil
	}

	samples, err := d.decodeFrames(frames)
	if err != nil {
		d.failed++
		if d.total >= decodeAbortMinChunks && d.failed*2 > d.total {
			return nil, errorsx.Wrap(DecodeAbortError{Failed: d.failed, Total: d.total}, errorsx.ReasonDecodeAbort)
		}
		return nil, errorsx.Wrap(fmt.Errorf("decode mp3 chunk: %w", err), errorsx.ReasonDecodeChunk)
	}
	return samples, nil
}

// extractFrames pulls the maximal run of complete frames off the front
// of the buffer, leaving any partial frame (and skipping garbage before
// the first sync word).
func (d *mp3Decoder) extractFrames() []byte {
	data := d.buf.Bytes()
	var out []byte
	pos := 0
	for {
		start, length := nextFrame(data[pos:])
		if length == 0 {
			break
		}
		pos += start
		if pos+length > len(data) {
			break
		}
		out = append(out, data[pos:pos+length]...)
		pos += length
	}
	if pos > 0 {
		d.buf.Next(pos)
	}
	return out
}

// nextFrame locates the next MPEG-1 Layer III sync word and returns its
// offset and the frame length its header declares. A zero length means
// no parseable header is visible yet.
func nextFrame(data []byte) (start, length int) {
	for i := 0; i+4 <= len(data); i++ {
		if data[i] != 0xFF || data[i+1]&0xE0 != 0xE0 {
			continue
		}
		version := (data[i+1] >> 3) & 0x03
		layer := (data[i+1] >> 1) & 0x03
		if version != 3 || layer != 1 {
			continue
		}
		bitrateIdx := (data[i+2] >> 4) & 0x0F
		rateIdx := (data[i+2] >> 2) & 0x03
		if bitrateIdx == 0 || bitrateIdx == 15 || rateIdx == 3 {
			continue
		}
		bitrate := mp3Bitrates[bitrateIdx] * 1000
		sampleRate := mp3SampleRates[rateIdx]
		padding := int((data[i+2] >> 1) & 0x01)
		return i, 144*bitrate/sampleRate + padding
	}
	return 0, 0
}

func (d *mp3Decoder) decodeFrames(frames []byte) ([]int16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(frames))
	if err != nil {
		return nil, err
	}
	d.rate = dec.SampleRate()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	// go-mp3 emits 16-bit little-endian stereo; fold to mono.
	n := len(raw) / 4
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		l := int32(int16(uint16(raw[4*i]) | uint16(raw[4*i+1])<<8))
		r := int32(int16(uint16(raw[4*i+2]) | uint16(raw[4*i+3])<<8))
		out[i] = int16((l + r) / 2)
	}
	return out, nil
}
