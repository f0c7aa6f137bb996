package util

import (
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\ufeff"

// CleanText prepares text returned by a transcription backend for storage:
// a leading BOM is dropped, invalid UTF-8 is replaced with U+FFFD and
// surrounding whitespace is trimmed. Inner whitespace and punctuation are kept.
func CleanText(s string) string {
	s = strings.TrimPrefix(s, utf8BOM)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return strings.TrimSpace(s)
}
