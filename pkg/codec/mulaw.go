// Package codec converts between the 8 kHz mu-law telephony format and
// linear PCM, resamples PCM between provider rates, and decodes the
// compressed audio streams synthesis providers emit.
package codec

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

func decodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// MuLawToPCM16 expands 8-bit mu-law bytes into 16-bit linear samples.
func MuLawToPCM16(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

// PCM16ToMuLaw compresses 16-bit linear samples into 8-bit mu-law bytes.
// Samples outside the mu-law range are clipped rather than wrapped.
func PCM16ToMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func encodeMuLawSample(s int16) byte {
	sample := int32(s)
	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}
