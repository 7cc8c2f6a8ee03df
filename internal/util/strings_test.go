package util

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestFirstLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single line", "exit status 1", "exit status 1"},
		{"trailing newline", "exit status 1\n", "exit status 1"},
		{"multi line", "exit status 2\nstderr: boom\n", "exit status 2 ..."},
		{"crlf", "timeout\r\nkilled", "timeout ..."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstLine(tt.input); got != tt.want {
				t.Errorf("FirstLine(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"maxLen at ellipsis width", "hello", 3, "..."},
		{"negative maxLen", "hello", -5, "..."},
		{"empty string unchanged", "", 10, ""},
		{"one char plus ellipsis", "hello", 4, "h..."},
		{"unicode counted by rune", "日本語テスト", 5, "日本..."},
		{"mixed ascii and unicode", "hello日本語world", 10, "hello日本..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateANSI(t *testing.T) {
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	t.Run("no limit", func(t *testing.T) {
		in := "T1  done  1  worker-with-a-long-name"
		if got := TruncateANSI(in, 0); got != in {
			t.Errorf("TruncateANSI(_, 0) = %q, want unchanged", got)
		}
	})

	t.Run("plain string truncated", func(t *testing.T) {
		if got := TruncateANSI("hello world", 8); got != "hello..." {
			t.Errorf("got %q, want %q", got, "hello...")
		}
	})

	t.Run("tiny width", func(t *testing.T) {
		if got := TruncateANSI("hello", 2); got != "..." {
			t.Errorf("got %q, want %q", got, "...")
		}
	})

	t.Run("styled string kept when it fits", func(t *testing.T) {
		in := red.Render("failed")
		if got := TruncateANSI(in, 20); got != in {
			t.Errorf("styled string was modified: %q", got)
		}
	})

	t.Run("styled string truncated by visible width", func(t *testing.T) {
		got := TruncateANSI(red.Render("exit status 1: no such file"), 10)
		if w := lipgloss.Width(got); w > 10 {
			t.Errorf("width %d exceeds 10: %q", w, got)
		}
	})
}
