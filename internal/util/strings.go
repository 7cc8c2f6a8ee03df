// Package util provides text helpers for terminal output.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const ellipsis = "..."

// FirstLine returns s up to its first line break, with "..." appended when
// more lines follow. Task failure details often carry a whole stderr tail.
func FirstLine(s string) string {
	s = strings.TrimSpace(s)
	first, rest, found := strings.Cut(s, "\n")
	if !found || strings.TrimSpace(rest) == "" {
		return strings.TrimRight(first, "\r ")
	}
	return strings.TrimRight(first, "\r ") + " " + ellipsis
}

// TruncateString truncates s to maxLen runes, adding "..." if truncated.
// It does not account for ANSI escape codes or wide characters; use
// TruncateANSI for styled terminal output.
func TruncateString(s string, maxLen int) string {
	if maxLen <= len(ellipsis) {
		return ellipsis
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// TruncateANSI truncates s to maxWidth visual columns, adding "..." if
// truncated. Escape sequences are preserved and wide characters count by
// their display width. A maxWidth of zero or less leaves s unchanged.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 || lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(ellipsis) {
		return ellipsis
	}
	return ansi.Truncate(s, maxWidth, ellipsis)
}
