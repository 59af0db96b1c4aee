package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"hatbot/internal/fault"
	kit "hatbot/internal/transport"
	logx "hatbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	menus [][]kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, cmds)
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, Text: text}}
}

func TestTokenizeCommandLine(t *testing.T) {
	got := tokenizeCommandLine(`/rcon cmd "sv_cheats 0" mp_restartgame\ 1 ''`)
	want := []string{"/rcon", "cmd", "sv_cheats 0", "mp_restartgame 1", ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if tokenizeCommandLine("   ") != nil {
		t.Fatalf("blank input should give no tokens")
	}
}

func TestParseFlags(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"42", "--reason=spam", "-v", "-5", "--dry", "--", "--literal"})
	if !reflect.DeepEqual(pos, []string{"42", "-5", "--literal"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["reason"] != "spam" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["v"] || !bools["dry"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestDispatchAccessAliasesAndErrors(t *testing.T) {
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1}, []int64{2})

	var mu sync.Mutex
	var calls []string
	record := func(name string) HandlerFunc {
		return func(_ context.Context, req *Request) error {
			mu.Lock()
			calls = append(calls, name+":"+strings.Join(req.Args, ","))
			mu.Unlock()
			return nil
		}
	}
	called := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}

	m.SetRegistry([]Command{
		{Route: "playtest prestart", Aliases: []string{"pre"}, Access: AccessModerator, Handle: record("prestart")},
		{Route: "playtest start", Access: AccessModerator, Handle: record("start")},
		{Route: "reload", Access: AccessOwnerOnly, Handle: record("reload")},
		{Route: "bad", Handle: func(context.Context, *Request) error {
			return fault.New(fault.Precondition, "no server is reserved")
		}},
		{Route: "boom", Handle: func(context.Context, *Request) error { return errors.New("disk on fire") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updates <- msg(2, "/pre")
	updates <- msg(2, "/PlayTest start --force now")
	updates <- msg(2, "/playtest_start")
	updates <- msg(3, "/pre")
	updates <- msg(2, "/reload")
	updates <- msg(1, "/reload")

	waitFor(t, func() bool { return len(called()) == 4 })
	got := called()
	for _, want := range []string{"prestart:", "start:", "reload:"} {
		found := false
		for _, c := range got {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing call %q in %v", want, got)
		}
	}

	updates <- msg(9, "/bad")
	updates <- msg(9, "/boom")
	waitFor(t, func() bool {
		var visible, generic bool
		for _, s := range ad.texts() {
			visible = visible || s == "no server is reserved"
			generic = generic || strings.HasPrefix(s, "command failed (ref ")
		}
		return visible && generic
	})

	refusals := 0
	for _, s := range ad.texts() {
		if s == "you are not allowed to use this command" {
			refusals++
		}
		if strings.Contains(s, "disk on fire") {
			t.Fatalf("internal error leaked to chat: %q", s)
		}
	}
	if refusals != 2 {
		t.Fatalf("refusals = %d, want 2", refusals)
	}

	waitFor(t, func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.menus) == 1
	})
}

func TestAccessOfHotReload(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, []int64{1}, nil)
	if m.AccessOf(5) != AccessEveryone {
		t.Fatalf("unknown user should have no role")
	}
	m.SetModerators([]int64{5})
	if m.AccessOf(5) != AccessModerator || !m.allowed(AccessModerator, 5) || m.allowed(AccessOwnerOnly, 5) {
		t.Fatalf("moderator access wrong")
	}
	m.SetOwners([]int64{5})
	if !m.allowed(AccessOwnerOnly, 5) {
		t.Fatalf("owner should pass every check")
	}
}

func TestHelpAndMenu(t *testing.T) {
	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil, nil)
	m.SetRegistry([]Command{
		{Route: "mute", Description: "mute a user", Access: AccessModerator, Handle: func(context.Context, *Request) error { return nil }},
		{Route: "playtest start", Description: "start the playtest", Access: AccessModerator, Handle: func(context.Context, *Request) error { return nil }},
		{Route: "schedules", Description: "list scheduled actions", Handle: func(context.Context, *Request) error { return nil }},
	})

	top := m.helpText(nil)
	if !strings.Contains(top, "<code>/schedules</code>") || !strings.Contains(top, "🛡 <code>/mute</code>") {
		t.Fatalf("top help:\n%s", top)
	}
	if strings.Index(top, "/schedules") > strings.Index(top, "/mute") {
		t.Fatalf("public commands should be listed first:\n%s", top)
	}
	node := m.helpText([]string{"playtest"})
	if !strings.Contains(node, "/playtest start") {
		t.Fatalf("group help:\n%s", node)
	}

	m.mu.RLock()
	root := m.root
	m.mu.RUnlock()
	menu := buildTelegramMenuCommands(root, []Command{{Route: "playtest start", Description: "start the playtest", Access: AccessModerator}})
	names := map[string]string{}
	for _, c := range menu {
		names[c.Command] = c.Description
	}
	if _, ok := names["playtest_start"]; !ok {
		t.Fatalf("menu = %v", menu)
	}
	if names["help"] == "" || names["schedules"] != "list scheduled actions" {
		t.Fatalf("menu = %v", menu)
	}
}

func TestErrorText(t *testing.T) {
	if got := ErrorText(fault.New(fault.Validation, "bad duration"), "x"); got != "bad duration" {
		t.Fatalf("got %q", got)
	}
	if got := ErrorText(fault.Wrap(fault.RemoteUnavailable, context.DeadlineExceeded), "x"); got != "command timed out (ref x)" {
		t.Fatalf("got %q", got)
	}
}
