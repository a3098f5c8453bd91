package protocol

import (
	"strings"
	"unicode/utf8"
)

// maxToolResultLen caps the stringified tool result injected upstream to
// bound model context inflation.
const maxToolResultLen = 20480

// truncationSuffix is appended when a tool result exceeds maxToolResultLen.
const truncationSuffix = "... (truncated)"

// SanitizeToolResult strips ASCII control characters 0x00–0x1F (keeping tab,
// newline, and carriage return) and truncates the result to maxToolResultLen
// characters with a truncation suffix. Some JSON parsers choke on raw control
// characters inside string payloads, hence the stripping.
func SanitizeToolResult(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 {
			switch r {
			case '\t', '\n', '\r':
				return r
			}
			return -1
		}
		return r
	}, s)

	if len(cleaned) > maxToolResultLen {
		// Back the cut off to a rune boundary so a multibyte character is
		// never split into invalid UTF-8.
		cut := maxToolResultLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut] + truncationSuffix
	}
	return cleaned
}
