package adapter

import (
	"strings"
	"testing"
)

func TestSplitShortText(t *testing.T) {
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := splitTelegramText("", 10, ""); len(got) != 1 {
		t.Fatalf("empty text gave %d chunks", len(got))
	}
}

func TestSplitPrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitTelegramText(text, 12, "")
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitAvoidsCuttingTags(t *testing.T) {
	text := "abcdefgh<b>bold</b>"
	got := splitTelegramText(text, 10, "HTML")
	if got[0] != "abcdefgh" {
		t.Fatalf("first chunk %q cut inside a tag", got[0])
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost text: %q", got)
	}
}
