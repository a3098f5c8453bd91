package protocol

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeToolResultStripsControlChars(t *testing.T) {
	t.Parallel()

	in := "a\x00b\x01c\x1fd"
	if got := SanitizeToolResult(in); got != "abcd" {
		t.Errorf("got %q, want %q", got, "abcd")
	}
}

func TestSanitizeToolResultKeepsWhitespaceControls(t *testing.T) {
	t.Parallel()

	in := "line1\nline2\tcol\rend"
	if got := SanitizeToolResult(in); got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestSanitizeToolResultTruncates(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("x", maxToolResultLen+100)
	got := SanitizeToolResult(in)
	if !strings.HasSuffix(got, truncationSuffix) {
		t.Fatalf("missing truncation suffix: ...%q", got[len(got)-30:])
	}
	if len(got) != maxToolResultLen+len(truncationSuffix) {
		t.Errorf("len = %d, want %d", len(got), maxToolResultLen+len(truncationSuffix))
	}
}

func TestSanitizeToolResultTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// Three-byte runes never line up with the byte cap, so a byte-boundary cut
	// would leave a split rune behind.
	in := strings.Repeat("日", maxToolResultLen/3+100)
	got := SanitizeToolResult(in)

	if !strings.HasSuffix(got, truncationSuffix) {
		t.Fatalf("missing truncation suffix: ...%q", got[len(got)-30:])
	}
	if !utf8.ValidString(got) {
		t.Error("truncated result is not valid UTF-8")
	}
	body := strings.TrimSuffix(got, truncationSuffix)
	if len(body) > maxToolResultLen {
		t.Errorf("body is %d bytes, want at most %d", len(body), maxToolResultLen)
	}
	if r, _ := utf8.DecodeLastRuneInString(body); r != '日' {
		t.Errorf("last rune = %q, want %q", r, '日')
	}
}

func TestSanitizeToolResultShortInputUnchanged(t *testing.T) {
	t.Parallel()

	in := `{"answer":"KS7, KS9, KP3S"}`
	if got := SanitizeToolResult(in); got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}
