package codec

// ResamplePCM16 converts mono 16-bit PCM between sample rates using
// linear interpolation. Interior output samples are interpolated from
// the two nearest input samples; the last output sample repeats the
// final input sample.
func ResamplePCM16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return []int16{}
	}
	out := make([]int16, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
