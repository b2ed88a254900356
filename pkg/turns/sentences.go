package turns

import "strings"

// maxSegmentRunes caps how much text goes into one synthesis request.
const maxSegmentRunes = 250

// SplitSentences breaks reply text at sentence boundaries, merging
// short sentences so each segment is a worthwhile synthesis request.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}

	var segments []string
	var seg strings.Builder
	for _, s := range sentences {
		if seg.Len() > 0 && len([]rune(seg.String()))+len([]rune(s))+1 > maxSegmentRunes {
			segments = append(segments, seg.String())
			seg.Reset()
		}
		if seg.Len() > 0 {
			seg.WriteByte(' ')
		}
		seg.WriteString(s)
	}
	if seg.Len() > 0 {
		segments = append(segments, seg.String())
	}
	return segments
}

// fillerTokens are acknowledgement noises that do not deserve a reply.
var defaultFillerTokens = []string{"uh", "um", "hmm", "ah", "oh", "mm", "mhm", "er", "uh-huh"}

// IsFillerOnly reports whether a transcript is empty or consists solely
// of filler tokens.
func IsFillerOnly(transcript string, extra []string) bool {
	cleaned := strings.ToLower(transcript)
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			return -1
		}
		return r
	}, cleaned)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return true
	}
	filler := make(map[string]struct{}, len(defaultFillerTokens)+len(extra))
	for _, t := range defaultFillerTokens {
		filler[t] = struct{}{}
	}
	for _, t := range extra {
		filler[strings.ToLower(t)] = struct{}{}
	}
	for _, w := range words {
		if _, ok := filler[w]; !ok {
			return false
		}
	}
	return true
}
