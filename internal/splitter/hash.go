package splitter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeBody strips per-line trailing whitespace and trailing blank
// lines. Line numbers never enter the hash, so pure moves are invisible.
func NormalizeBody(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	// Drop trailing blank lines.
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// HashSpan computes the content address for a span.
func HashSpan(language, symbol string, kind SpanKind, body string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeBody(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes returns the SHA-256 hex digest of raw bytes (file content hash).
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
