package util

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 5); got != "ab..." {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 5); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := Truncate("€€€€€€", 5)
	if got != "€€..." {
		t.Fatalf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8: %q", got)
	}
	if got := Truncate("日本語", 3); got != "日本語" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("日本語テキスト", 2); got != "日本" {
		t.Fatalf("got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("got %q", got)
	}
}
