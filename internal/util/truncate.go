package util

import (
	"fmt"
	"unicode/utf8"
)

// TruncateLog shortens provider error bodies before they are logged or
// stored on a watch receipt. The cut never splits a UTF-8 sequence.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
