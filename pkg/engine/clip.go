package engine

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// LoadFallbackClip reads a base64-encoded 8 kHz mu-law clip from disk.
// An empty path loads nothing.
func LoadFallbackClip(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback clip: %w", err)
	}
	encoded := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, string(raw))
	clip, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fallback clip: %w", err)
	}
	return clip, nil
}
