package codec

import (
	"math"
	"testing"
)

func TestMuLawDecodeEncodeIsStable(t *testing.T) {
	// Decoding a mu-law byte and re-encoding the sample must land on a
	// byte that decodes to the exact same value.
	for i := 0; i < 256; i++ {
		sample := MuLawToPCM16([]byte{byte(i)})[0]
		again := MuLawToPCM16(PCM16ToMuLaw([]int16{sample}))[0]
		if again != sample {
			t.Fatalf("byte 0x%02x: decoded %d, re-decoded %d", i, sample, again)
		}
	}
}

func TestMuLawRoundTripWithinQuantizationError(t *testing.T) {
	cases := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 20000, -20000, 32124, -32124, 32767, -32768}
	for _, orig := range cases {
		got := MuLawToPCM16(PCM16ToMuLaw([]int16{orig}))[0]
		tolerance := math.Abs(float64(orig))/8 + 140
		if diff := math.Abs(float64(got) - float64(orig)); diff > tolerance {
			t.Fatalf("sample %d round-tripped to %d (diff %.0f > %.0f)", orig, got, diff, tolerance)
		}
	}
}

func TestMuLawSilence(t *testing.T) {
	if got := MuLawToPCM16([]byte{0xFF})[0]; got != 0 {
		t.Fatalf("0xFF decoded to %d, want 0", got)
	}
	if got := PCM16ToMuLaw([]int16{0})[0]; got != 0xFF {
		t.Fatalf("zero sample encoded to 0x%02x, want 0xFF", got)
	}
}

func TestMuLawPreservesSign(t *testing.T) {
	for _, s := range []int16{500, 5000, 30000} {
		pos := MuLawToPCM16(PCM16ToMuLaw([]int16{s}))[0]
		neg := MuLawToPCM16(PCM16ToMuLaw([]int16{-s}))[0]
		if pos <= 0 || neg >= 0 {
			t.Fatalf("sample %d: round trips %d and %d lost sign", s, pos, neg)
		}
	}
}
