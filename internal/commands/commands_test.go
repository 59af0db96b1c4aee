package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hatbot/internal/fault"
	"hatbot/internal/moderation"
	"hatbot/internal/rcon"
	"hatbot/internal/reservation"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	kit "hatbot/internal/transport"
	"hatbot/internal/transport/telegram/router"
	logx "hatbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
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

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeRoles struct{}

func (fakeRoles) GrantMute(context.Context, int64, time.Time) error { return nil }
func (fakeRoles) RevokeMute(context.Context, int64) error           { return nil }
func (fakeRoles) IsImmune(context.Context, int64) (bool, error)     { return false, nil }

type fakePlaytest struct {
	sess  storage.PlaytestSession
	err   error
	calls []string
}

func (f *fakePlaytest) step(name, phase string) (storage.PlaytestSession, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return storage.PlaytestSession{}, f.err
	}
	f.sess.Phase = phase
	return f.sess, nil
}

func (f *fakePlaytest) Prestart(context.Context) (storage.PlaytestSession, error) {
	return f.step("prestart", "staged")
}
func (f *fakePlaytest) Start(context.Context) (storage.PlaytestSession, error) {
	return f.step("start", "live")
}
func (f *fakePlaytest) Post(context.Context) (storage.PlaytestSession, error) {
	return f.step("post", "postgame")
}
func (f *fakePlaytest) Pause(context.Context) (storage.PlaytestSession, error) {
	return f.step("pause", "paused")
}
func (f *fakePlaytest) Unpause(context.Context) (storage.PlaytestSession, error) {
	return f.step("unpause", "live")
}
func (f *fakePlaytest) Scramble(context.Context) (storage.PlaytestSession, error) {
	return f.step("scramble", "live")
}
func (f *fakePlaytest) End(context.Context) (storage.PlaytestSession, error) {
	return f.step("end", "idle")
}

func (f *fakePlaytest) Kick(ctx context.Context, prompt rcon.PlayerPrompter) (rcon.Player, error) {
	f.calls = append(f.calls, "kick")
	p, ok, err := prompt.ChoosePlayer(ctx, []rcon.Player{{UserID: 2, Name: "Alice"}, {UserID: 3, Name: "Bob"}})
	if err != nil || !ok {
		return rcon.Player{}, fault.New(fault.Precondition, "no such player")
	}
	return p, nil
}

type fakeSessions struct{ addr string }

func (f fakeSessions) ActiveServerAddress() (string, bool) { return f.addr, f.addr != "" }
func (f fakeSessions) Current() (storage.PlaytestSession, bool) {
	return storage.PlaytestSession{Title: "Dust", ServerAddress: f.addr, Phase: "live"}, f.addr != ""
}

type fakeRcon struct {
	mu      sync.Mutex
	replies map[string]string
	sent    []string
}

func (f *fakeRcon) Send(_ context.Context, serverID, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, serverID+"|"+command)
	return f.replies[command], nil
}

type fakeNotices struct{ got []reservation.Notice }

func (f *fakeNotices) DeliverNotices(_ context.Context, n []reservation.Notice) {
	f.got = append(f.got, n...)
}

type fakeAudit struct{ entries []storage.AuditEntry }

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type harness struct {
	set     *Set
	cmds    map[string]router.Command
	ad      *fakeAdapter
	store   storage.Store
	pt      *fakePlaytest
	rcon    *fakeRcon
	gate    *reservation.Gate
	notices *fakeNotices
	audit   *fakeAudit
}

func newHarness(t *testing.T, sessionAddr string) *harness {
	t.Helper()
	h := &harness{
		ad:      &fakeAdapter{},
		store:   storage.NewMemory(),
		pt:      &fakePlaytest{sess: storage.PlaytestSession{Title: "Dust", DemoName: "dust_demo", ServerAddress: "eu1.example.com"}},
		rcon:    &fakeRcon{replies: map[string]string{}},
		gate:    reservation.NewGate(),
		notices: &fakeNotices{},
		audit:   &fakeAudit{},
	}
	ctx := context.Background()
	require.NoError(t, h.store.PutServer(ctx, storage.Server{ID: "eu1", Address: "eu1.example.com", RconPassword: "pw"}))
	require.NoError(t, h.store.PutServer(ctx, storage.Server{ID: "us1", Address: "us1.example.com", RconPassword: "pw"}))

	sessions := fakeSessions{addr: sessionAddr}
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	h.set = New(Deps{
		Moderation: moderation.NewEngine(h.store, fakeRoles{}, sched, logx.Nop()),
		Playtest:   h.pt,
		Sessions:   sessions,
		Rcon:       h.rcon,
		Resolver:   rcon.NewResolver(h.store, sessions),
		Kicker:     rcon.NewKicker(h.rcon),
		Gate:       h.gate,
		Servers:    h.store,
		Notices:    h.notices,
		Audit:      h.audit,
		Schedules:  sched,
		Location:   time.UTC,
	})
	h.cmds = map[string]router.Command{}
	for _, c := range h.set.Commands() {
		h.cmds[c.Route] = c
	}
	return h
}

// run calls the command at route as if text had been typed by from.
func (h *harness) run(t *testing.T, route string, from int64, text string, reply *kit.ReplyRef) error {
	t.Helper()
	c, ok := h.cmds[route]
	require.True(t, ok, "no command %q", route)
	path := strings.Fields(route)
	words := strings.Fields(text)
	var args []string
	if len(words) > len(path) {
		args = words[len(path):]
	}
	flags := map[string]string{}
	var pos []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--") && i+1 < len(args) {
			flags[strings.TrimPrefix(args[i], "--")] = args[i+1]
			i++
			continue
		}
		pos = append(pos, args[i])
	}
	msg := &kit.Message{ChatID: -100, FromID: from, Text: text, Reply: reply}
	req := &router.Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: -100},
		FromID:  from,
		Path:    path,
		Command: route,
		Args:    pos,
		RawArgs: args,
		Flags:   flags,
		Adapter: h.ad,
		Logger:  logx.Nop(),
	}
	return c.Handle(context.Background(), req)
}

func TestMuteUnmuteAndAudit(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "mute", 7, "/mute 42 1h spam in chat", nil))
	assert.Contains(t, h.ad.last(), "User muted")
	assert.Contains(t, h.ad.last(), "spam in chat")

	require.NoError(t, h.run(t, "mute", 7, "/mute 30m e still spamming", &kit.ReplyRef{FromID: 42, FromUsername: "spammer"}))
	assert.Contains(t, h.ad.last(), "Mute extended")
	assert.Contains(t, h.ad.last(), "1 Hour, 30 Minutes")

	require.NoError(t, h.run(t, "mutes", 7, "/mutes", nil))
	assert.Contains(t, h.ad.last(), "Active mutes (1)")

	require.NoError(t, h.run(t, "unmute", 7, "/unmute 42", nil))
	assert.Equal(t, "Unmuted spammer (42).", h.ad.last())
	require.NoError(t, h.run(t, "unmute", 7, "/unmute 42", nil))
	assert.Equal(t, "42 is not muted.", h.ad.last())

	require.NoError(t, h.run(t, "mutes", 7, "/mutes 42", nil))
	assert.Contains(t, h.ad.last(), "[expired]")

	require.Len(t, h.audit.entries, 4)
	assert.Equal(t, "mute", h.audit.entries[0].Command)
	assert.Equal(t, "42", h.audit.entries[0].Target)
	assert.Equal(t, "applied", h.audit.entries[0].Outcome)
	assert.Equal(t, int64(7), h.audit.entries[0].ActorID)
	assert.Equal(t, "not_muted", h.audit.entries[3].Outcome)
}

func TestMuteValidationErrors(t *testing.T) {
	h := newHarness(t, "")

	err := h.run(t, "mute", 7, "/mute 42 soon spam", nil)
	require.Error(t, err)
	assert.True(t, fault.KindOf(err).Visible())

	err = h.run(t, "mute", 7, "/mute bob 1h spam", nil)
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	err = h.run(t, "mute", 7, "/mute 42 1h", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")

	require.Len(t, h.audit.entries, 3)
	assert.Equal(t, "error", h.audit.entries[0].Outcome)
	assert.NotEmpty(t, h.audit.entries[0].Error)
}

func TestPlaytestPrestartClosesReservations(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.gate.Reserve(5, "eu1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, h.run(t, "playtest prestart", 7, "/playtest prestart", nil))
	assert.Contains(t, h.ad.last(), "Playtest staged")
	assert.True(t, h.gate.Blocked())
	require.Len(t, h.notices.got, 1)
	assert.Equal(t, reservation.ClearedNotice, h.notices.got[0].Message)

	require.NoError(t, h.run(t, "playtest p", 7, "/playtest p", nil))
	assert.Equal(t, "Match paused.", h.ad.last())
	require.NoError(t, h.run(t, "playtest start", 7, "/playtest start", nil))
	assert.Equal(t, "Playtest of Dust is live, recording dust_demo.", h.ad.last())
	require.NoError(t, h.run(t, "playtest k", 7, "/playtest k ali", nil))
	assert.Equal(t, "Kicked Alice (#2).", h.ad.last())

	assert.Equal(t, []string{"prestart", "pause", "start", "kick"}, h.pt.calls)
	assert.True(t, h.cmds["playtest p"].Hidden)
	assert.False(t, h.cmds["playtest pause"].Hidden)
}

func TestPlaytestErrorIsReturned(t *testing.T) {
	h := newHarness(t, "")
	h.pt.err = fault.New(fault.Precondition, "not allowed in the current playtest state")

	err := h.run(t, "playtest start", 7, "/playtest start", nil)
	require.Error(t, err)
	assert.Equal(t, "not allowed in the current playtest state", router.ErrorText(err, "x"))

	err = h.run(t, "playtest prestart", 7, "/playtest prestart", nil)
	require.Error(t, err)
	assert.False(t, h.gate.Blocked())
}

func TestRconTargetAndSend(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "rcon", 7, "/rcon", nil))
	assert.Contains(t, h.ad.last(), "no rcon target")

	err := h.run(t, "rcon", 7, "/rcon status", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, rcon.ErrNoTarget)

	err = h.run(t, "rcon set", 7, "/rcon set nowhere", nil)
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	require.NoError(t, h.run(t, "rcon set", 7, "/rcon set US1", nil))
	require.NoError(t, h.run(t, "rcon", 7, `/rcon say "hello there"`, nil))
	assert.Equal(t, `say "hello there" was sent, but provided no reply.`, h.ad.last())
	assert.Equal(t, `us1|say "hello there"`, h.rcon.sent[0])

	h.rcon.replies["status"] = "hostname: test"
	require.NoError(t, h.run(t, "rcon", 7, "/rcon status", nil))
	assert.Contains(t, h.ad.last(), "hostname: test")
}

func TestRconFollowsSession(t *testing.T) {
	h := newHarness(t, "eu1.example.com:27015")
	require.NoError(t, h.run(t, "rcon", 7, "/rcon", nil))
	assert.Equal(t, "Your rcon target follows the active playtest: eu1.", h.ad.last())

	h.rcon.replies["status"] = `#  2 1 "Alice" STEAM_1:0:1 05:42 52 0 active 786432 1.2.3.4:27005`
	require.NoError(t, h.run(t, "rcon kick", 7, "/rcon kick alice", nil))
	assert.Equal(t, "Kicked Alice (#2) from eu1.", h.ad.last())
	assert.Contains(t, h.rcon.sent, "eu1|kickid 2")
}

func TestTestServerRegistry(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.run(t, "testserver add", 1, "/testserver add ca1 ca1.example.com secret Canada box --ftp-path /demos --ftp-type sftp", nil))
	srv, ok, err := h.store.GetServer(ctx, "ca1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Canada box", srv.Description)
	assert.Equal(t, "/demos", srv.FtpPath)
	assert.Equal(t, "sftp", srv.FtpType)

	require.NoError(t, h.run(t, "testserver get", 1, "/testserver get all", nil))
	assert.Contains(t, h.ad.last(), "Test servers (3)")
	assert.NotContains(t, h.ad.last(), "secret")

	err = h.run(t, "testserver add", 1, "/testserver add x x.example.com pw --ftp-type gopher", nil)
	require.Error(t, err)

	require.NoError(t, h.run(t, "testserver remove", 1, "/testserver remove ca1", nil))
	require.NoError(t, h.run(t, "testserver remove", 1, "/testserver remove ca1", nil))
	assert.Equal(t, "There is no test server ca1.", h.ad.last())
}

func TestReservationCommands(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run(t, "reserve", 5, "/reserve eu1 1h", nil))
	assert.Contains(t, h.ad.last(), "Reserved eu1 until")

	err := h.run(t, "reserve", 6, "/reserve eu1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, reservation.ErrServerTaken)

	err = h.run(t, "reserve", 6, "/reserve us1 12h", nil)
	require.Error(t, err)

	require.NoError(t, h.run(t, "clearreservation", 7, "/clearreservation us1", nil))
	assert.Equal(t, "There is no reservation on us1.", h.ad.last())

	require.NoError(t, h.run(t, "clearreservation", 7, "/clearreservation EU1", nil))
	assert.Equal(t, "Cleared the reservation on eu1.", h.ad.last())
	require.Len(t, h.notices.got, 1)
	assert.Equal(t, int64(5), h.notices.got[0].UserID)

	require.NoError(t, h.run(t, "reserve", 6, "/reserve us1", nil))
	require.NoError(t, h.run(t, "clearreservation", 7, "/clearreservation", nil))
	assert.Equal(t, "Cleared 1 reservation(s).", h.ad.last())

	require.NoError(t, h.run(t, "release", 6, "/release", nil))
	assert.Equal(t, "You have no reservation.", h.ad.last())
}

func TestSchedulesListsActions(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "mute", 7, "/mute 42 1h spam", nil))
	require.NoError(t, h.run(t, "schedules", 7, "/schedules", nil))
	assert.Contains(t, h.ad.last(), moderation.JobName(42))
}

func TestRestOfLine(t *testing.T) {
	assert.Equal(t, `say "a  b"`, restOfLine(`/rcon   say "a  b"`, 1))
	assert.Equal(t, "", restOfLine("/rcon", 1))
	assert.Equal(t, "x", restOfLine("/a b x", 2))
}
