package logx

import (
	"strings"
	"testing"
)

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"error","time":"2024-01-01T00:00:00Z","message":"unmute failed","user_id":42,"comp":"moderation"}`)

	got := formatChatLine(line, "@mods")
	want := "@mods [ERROR] unmute failed\n- comp=moderation\n- user_id=42"
	if got != want {
		t.Fatalf("formatChatLine() = %q, want %q", got, want)
	}
}

func TestFormatChatLineNotJSON(t *testing.T) {
	got := formatChatLine([]byte("  plain text \n"), "")
	if got != "plain text" {
		t.Fatalf("formatChatLine() = %q, want %q", got, "plain text")
	}
}

func TestFormatChatLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := formatChatLine([]byte(`{"level":"warn","message":"`+long+`"}`), "")
	if len(got) != chatMessageLimit {
		t.Fatalf("len = %d, want %d", len(got), chatMessageLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-5:])
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"nope", LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	Nop().With(Int("n", 1)).Error("ignored")
}
