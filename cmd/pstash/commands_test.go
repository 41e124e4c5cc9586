package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"ascii truncated", "hello world", 5, "hello..."},
		{"multibyte truncated on rune boundary", "héllo wörld", 7, "héllo w..."},
		{"emoji not split", "ab\U0001F600cd", 3, "ab\U0001F600..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestTruncate_LongMultibyteStaysValid(t *testing.T) {
	long := strings.Repeat("日本語テキスト", 50)

	got := truncate(long, 200)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got[:20])
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(got, "...")); n != 200 {
		t.Errorf("kept %d runes, want 200", n)
	}
}
