// Package redact scrubs caller PII from log output. Voice transcripts
// routinely contain phone numbers, emails, and card numbers read aloud,
// none of which belong in logs.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, card numbers, and phone numbers when enabled.
// Card numbers go before phone numbers since the patterns overlap.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = cardRe.ReplaceAllString(out, "[REDACTED_CARD]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}
